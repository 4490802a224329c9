// Package transport содержит реализации stream.Transport: SSE и WebSocket.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig - настройки HTTP клиента для стрима и REST запросов к шлюзу
type HTTPClientConfig struct {
	ConnectTimeout        time.Duration // таймаут установки TCP соединения (default: 5s)
	TLSHandshakeTimeout   time.Duration // таймаут TLS handshake (default: 5s)
	ResponseHeaderTimeout time.Duration // ожидание заголовков ответа (default: 10s)
	KeepAliveInterval     time.Duration // TCP keep-alive (default: 30s)

	MaxIdleConnsPerHost int           // default: 4
	IdleConnTimeout     time.Duration // default: 90s

	// TotalTimeout - общий таймаут запроса; 0 для долгоживущих стримов
	TotalTimeout time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию для долгоживущего стрима
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:        5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		KeepAliveInterval:     30 * time.Second,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}

// NewHTTPClient создаёт http.Client с таймаутами соединения.
// Для стрима TotalTimeout должен быть 0: тело ответа читается бесконечно.
func NewHTTPClient(config HTTPClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		// сжатие буферизует event-stream
		DisableCompression: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.TotalTimeout,
	}
}
