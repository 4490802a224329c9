package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// TrustedProxies - обратные прокси, которым разрешено сообщать адрес клиента
// через X-Forwarded-For.
//
// Без настроенных прокси заголовок игнорируется: его значение задаёт клиент,
// и ключ лимита попыток входа по нему подделывается.
type TrustedProxies struct {
	nets []*net.IPNet
}

// NewTrustedProxies разбирает список IP адресов и CIDR подсетей
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	tp := &TrustedProxies{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			tp.nets = append(tp.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		tp.nets = append(tp.nets, ipNet)
	}
	return tp, nil
}

func (tp *TrustedProxies) trusts(ip net.IP) bool {
	if tp == nil || ip == nil {
		return false
	}
	for _, n := range tp.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve возвращает IP клиента.
//
// X-Forwarded-For учитывается только когда соединение пришло от доверенного
// прокси. Цепочка читается справа налево: первый недоверенный адрес и есть
// клиент, всё левее него мог дописать сам клиент.
func (tp *TrustedProxies) Resolve(r *http.Request) string {
	remote := remoteHost(r)
	candidate := net.ParseIP(remote)
	if !tp.trusts(candidate) {
		return remote
	}

	hops := forwardedHops(r)
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(hops[i])
		if ip == nil {
			break
		}
		candidate = ip
		if !tp.trusts(ip) {
			break
		}
	}
	return candidate.String()
}

// forwardedHops собирает адреса из всех заголовков X-Forwarded-For по порядку
func forwardedHops(r *http.Request) []string {
	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(header, ",") {
			if hop := strings.TrimSpace(part); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP возвращает IP клиента, определённый Logging middleware.
// Вне middleware - адрес TCP соединения.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}
