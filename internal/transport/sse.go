package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"botdash/internal/stream"
	"botdash/pkg/utils"
)

// maxSSELine - максимальная длина строки event-stream
const maxSSELine = 1 << 20

// StatusError - шлюз ответил не 200 на запрос стрима
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream endpoint returned status %d", e.StatusCode)
}

// SSE - stream.Transport поверх text/event-stream
//
// Назначение:
// Открывает долгоживущий GET запрос, разбирает кадры event-stream
// (id, event, data, комментарии) и передаёт их в stream.Sink.
//
// Использование:
//
//	tr := transport.NewSSE(nil, logger)
//	client, _ := stream.NewClient(cfg, tr, nil, logger)
type SSE struct {
	client *http.Client
	log    *utils.Logger
}

// NewSSE создаёт SSE транспорт; client == nil - клиент по умолчанию без общего таймаута
func NewSSE(client *http.Client, logger *utils.Logger) *SSE {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPClientConfig())
	}
	return &SSE{
		client: client,
		log:    utils.OrGlobal(logger).WithComponent("sse"),
	}
}

// sseConn - открытый SSE запрос
type sseConn struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (c *sseConn) Close() error {
	c.once.Do(c.cancel)
	return nil
}

// Open запускает запрос в отдельной горутине и сразу возвращает соединение
func (t *SSE) Open(url string, opts stream.OpenOptions, sink stream.Sink) (stream.Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}
	if opts.LastEventID != "" {
		req.Header.Set("Last-Event-ID", opts.LastEventID)
	}

	conn := &sseConn{cancel: cancel}
	go t.run(ctx, req, sink)
	return conn, nil
}

func (t *SSE) run(ctx context.Context, req *http.Request, sink stream.Sink) {
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			sink.OnError(err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		sink.OnError(&StatusError{StatusCode: resp.StatusCode})
		return
	}

	sink.OnOpen()
	err = ParseEventStream(resp.Body, sink.OnFrame)
	if ctx.Err() != nil {
		// закрыто локально
		return
	}
	if err == nil {
		err = io.EOF
	}
	t.log.Debug("Event stream ended", utils.Err(err))
	sink.OnError(err)
}

// ParseEventStream читает text/event-stream и вызывает fn для каждого кадра.
// Возвращает nil при EOF и ошибку чтения иначе.
//
// Поддерживаются поля id, event, data (многострочные склеиваются через \n)
// и комментарии ":". Поле retry игнорируется: задержку задаёт клиент.
func ParseEventStream(r io.Reader, fn func(stream.Frame)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var (
		lastID    string
		eventType string
		data      bytes.Buffer
		hasData   bool
	)

	dispatch := func() {
		if hasData {
			fn(stream.Frame{
				ID:   lastID,
				Type: eventType,
				Data: append([]byte(nil), data.Bytes()...),
			})
		}
		eventType = ""
		data.Reset()
		hasData = false
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "id":
			if !strings.ContainsRune(value, 0) {
				lastID = value
			}
		case "event":
			eventType = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "retry":
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	// незавершённый кадр в конце потока отбрасывается
	return nil
}
