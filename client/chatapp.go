// Package client is the user-side glue: the relay's prekey directory over HTTP, the websocket transport, and a
// line-oriented chat loop on top of a session.Manager.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"vault-signal/protocol"
	"vault-signal/session"

	"github.com/sirupsen/logrus"
)

// Received is a decrypted incoming message.
type Received struct {
	From string
	Text string
	At   time.Time
}

type ChatApp struct {
	userID    string
	sessions  *session.Manager
	transport *Transport
	logger    *logrus.Logger
	messages  chan Received
	wg        sync.WaitGroup
}

func NewChatApp(userID string, sessions *session.Manager, transport *Transport, logger *logrus.Logger) *ChatApp {
	return &ChatApp{
		userID:    userID,
		sessions:  sessions,
		transport: transport,
		logger:    logger,
		messages:  make(chan Received, 64),
	}
}

// Start begins receiving. Messages is closed when the connection ends.
func (app *ChatApp) Start(ctx context.Context) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		defer close(app.messages)
		app.listenForMessages(ctx)
	}()
}

func (app *ChatApp) Messages() <-chan Received {
	return app.messages
}

// listenForMessages decrypts every incoming frame. Frames that fail to decrypt are logged and dropped.
func (app *ChatApp) listenForMessages(ctx context.Context) {
	for {
		msg, err := app.transport.Receive()
		if errors.Is(err, protocol.ErrSerialization) {
			app.logger.Warnf("Dropping undecodable frame: %v", err)
			continue
		}
		if err != nil {
			app.logger.Debugf("Stopped reading: %v", err)
			return
		}

		plaintext, err := app.sessions.Decrypt(ctx, msg)
		if err != nil {
			// the manager has already logged and counted it
			continue
		}

		select {
		case app.messages <- Received{From: msg.SenderID, Text: string(plaintext), At: msg.Timestamp}:
		case <-ctx.Done():
			return
		}
	}
}

// SendMessage encrypts text for peerID and hands it to the relay.
func (app *ChatApp) SendMessage(ctx context.Context, peerID, text string) error {
	msg, err := app.sessions.Encrypt(ctx, peerID, []byte(text))
	if err != nil {
		return fmt.Errorf("error encrypting message: %w", err)
	}
	return app.transport.Send(msg)
}

// Run sends each line of in to peerID and prints incoming messages to out until in is exhausted or reads "/quit".
func (app *ChatApp) Run(ctx context.Context, peerID string, in io.Reader, out io.Writer) error {
	done := make(chan struct{})
	var printer sync.WaitGroup
	printer.Add(1)
	go func() {
		defer printer.Done()
		for {
			select {
			case m, ok := <-app.messages:
				if !ok {
					return
				}
				fmt.Fprintf(out, "[%s] %s\n", m.From, m.Text)
			case <-done:
				return
			}
		}
	}()
	defer func() {
		close(done)
		printer.Wait()
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		}
		if err := app.SendMessage(ctx, peerID, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Close ends the connection and waits for the receiver to stop.
func (app *ChatApp) Close() error {
	err := app.transport.Close()
	app.wg.Wait()
	return err
}
