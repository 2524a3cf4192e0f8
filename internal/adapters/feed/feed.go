// Package feed lee mensajes de chat de un io.Reader (stdin en cmd/cfdbot).
//
// Formatos:
//   - lines:  un mensaje por línea.
//   - blocks: mensajes de varias líneas separados por una línea en blanco.
//   - json:   un objeto por línea {"chat_id","sender_id","text","ts"}.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/tidwall/gjson"
)

// Mode es el formato de entrada.
type Mode string

const (
	ModeLines  Mode = "lines"
	ModeBlocks Mode = "blocks"
	ModeJSON   Mode = "json"
)

// ParseMode valida el nombre de un formato.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeLines, ModeBlocks, ModeJSON:
		return m, nil
	case "":
		return ModeLines, nil
	}
	return "", fmt.Errorf("feed.ParseMode: unknown mode %q", s)
}

// Message es un mensaje crudo con su metadata de origen.
type Message struct {
	Text string
	Meta domain.MessageMeta
}

// Reader entrega los mensajes de uno en uno.
type Reader struct {
	sc     *bufio.Scanner
	mode   Mode
	chatID string
	now    func() time.Time
}

const maxMessageBytes = 1 << 20

// New crea un Reader. chatID se usa como origen cuando la entrada no lo trae.
func New(r io.Reader, mode Mode, chatID string) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxMessageBytes)
	return &Reader{sc: sc, mode: mode, chatID: chatID, now: time.Now}
}

// WithClock fija el reloj usado para sellar los mensajes (tests).
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

// Next devuelve el siguiente mensaje no vacío, o io.EOF al terminar.
func (r *Reader) Next() (Message, error) {
	switch r.mode {
	case ModeBlocks:
		return r.nextBlock()
	case ModeJSON:
		return r.nextJSON()
	default:
		return r.nextLine()
	}
}

func (r *Reader) nextLine() (Message, error) {
	for r.sc.Scan() {
		if text := strings.TrimSpace(r.sc.Text()); text != "" {
			return r.message(text), nil
		}
	}
	return Message{}, r.end()
}

func (r *Reader) nextBlock() (Message, error) {
	var lines []string
	for r.sc.Scan() {
		line := strings.TrimRight(r.sc.Text(), " \t\r")
		if strings.TrimSpace(line) == "" {
			if len(lines) > 0 {
				return r.message(strings.Join(lines, "\n")), nil
			}
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) > 0 {
		return r.message(strings.Join(lines, "\n")), nil
	}
	return Message{}, r.end()
}

func (r *Reader) nextJSON() (Message, error) {
	for r.sc.Scan() {
		line := strings.TrimSpace(r.sc.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			return Message{}, fmt.Errorf("feed.Next: invalid json line: %.40q", line)
		}
		doc := gjson.Parse(line)
		text := strings.TrimSpace(doc.Get("text").String())
		if text == "" {
			continue
		}
		msg := r.message(text)
		if v := doc.Get("chat_id"); v.Exists() {
			msg.Meta.ChatID = v.String()
		}
		msg.Meta.SenderID = doc.Get("sender_id").String()
		if ts := doc.Get("ts"); ts.Exists() {
			msg.Meta.Timestamp = parseTimestamp(ts)
		}
		return msg, nil
	}
	return Message{}, r.end()
}

func (r *Reader) message(text string) Message {
	return Message{Text: text, Meta: domain.MessageMeta{ChatID: r.chatID, Timestamp: r.now().UTC()}}
}

func (r *Reader) end() error {
	if err := r.sc.Err(); err != nil {
		return fmt.Errorf("feed.Next: %w", err)
	}
	return io.EOF
}

// parseTimestamp acepta RFC3339 o segundos Unix.
func parseTimestamp(v gjson.Result) time.Time {
	if v.Type == gjson.Number {
		return time.Unix(v.Int(), 0).UTC()
	}
	t, err := time.Parse(time.RFC3339, v.String())
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Handler procesa un mensaje. Un error detiene Run.
type Handler func(ctx context.Context, msg Message) error

// Run entrega cada mensaje a h hasta EOF o cancelación del contexto.
// Devuelve cuántos mensajes se entregaron.
func (r *Reader) Run(ctx context.Context, h Handler) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := h(ctx, msg); err != nil {
			return n, err
		}
		n++
	}
}
