package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// ipPattern matches the first IPv4 literal in a response body.
var ipPattern = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)

// ExtractIP pulls an IP address out of an IP-echo response body.
// It understands the common JSON shapes ({"ip": ...}, {"origin": ...})
// and falls back to scanning for the first IPv4 literal.
func ExtractIP(body []byte) string {
	var payload struct {
		IP     string `json:"ip"`
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.IP != "" {
			return payload.IP
		}
		if payload.Origin != "" {
			// httpbin may report "client, proxy"; the first entry is
			// the apparent caller.
			if m := ipPattern.FindString(payload.Origin); m != "" {
				return m
			}
			return payload.Origin
		}
	}
	return ipPattern.FindString(string(body))
}

// RealIP queries an IP-echo endpoint directly (without any proxy) and
// returns the caller's real public IP. The anonymity layer compares
// proxied responses against this address to detect leaks.
func RealIP(ctx context.Context, endpoint string, timeout time.Duration) (string, error) {
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &UnexpectedStatusError{Got: resp.StatusCode, Want: http.StatusOK}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", err
	}

	ip := ExtractIP(body)
	if ip == "" {
		return "", fmt.Errorf("no IP address in response from %s", endpoint)
	}
	return ip, nil
}
