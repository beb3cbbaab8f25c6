package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type session struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	AccessToken string `json:"accessToken"`
}

type client struct {
	base string
	http *http.Client
}

func main() {
	base := strings.TrimRight(envOr("SMOKE_BASE_URL", "http://localhost:5000"), "/")
	email := envOr("ADMIN_EMAIL", "admin@alyanspace.com")
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		log.Fatal("ADMIN_PASSWORD is required")
	}

	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var s session
	res, refresh, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	if err != nil || res.StatusCode != http.StatusOK {
		log.Fatalf("login failed: status=%v err=%v", status(res), err)
	}
	if err := c.decode(res, &s); err != nil || s.AccessToken == "" || refresh == "" {
		log.Fatalf("login response: %v", err)
	}

	res, _, err = c.do(ctx, http.MethodGet, "/api/auth/profile", s.AccessToken, nil)
	if err != nil || res.StatusCode != http.StatusOK {
		log.Fatalf("profile failed: status=%v err=%v", status(res), err)
	}
	res.Body.Close()

	var rotated session
	res, nextRefresh, err := c.do(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	if err != nil || res.StatusCode != http.StatusOK {
		log.Fatalf("refresh failed: status=%v err=%v", status(res), err)
	}
	if err := c.decode(res, &rotated); err != nil || nextRefresh == "" || nextRefresh == refresh {
		log.Fatalf("refresh did not rotate the token: %v", err)
	}

	res, _, err = c.do(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	if err != nil {
		log.Fatalf("replay request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		log.Fatalf("replayed refresh token accepted: status=%d", res.StatusCode)
	}

	res, _, err = c.do(ctx, http.MethodPost, "/api/auth/logout-all", rotated.AccessToken, nil)
	if err != nil || res.StatusCode != http.StatusOK {
		log.Fatalf("logout-all failed: status=%v err=%v", status(res), err)
	}
	res.Body.Close()

	res, _, err = c.do(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": nextRefresh})
	if err != nil {
		log.Fatalf("post-logout refresh: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		log.Fatalf("refresh after logout-all accepted: status=%d", res.StatusCode)
	}

	fmt.Printf("smoke ok: user=%s base=%s\n", s.User.ID, base)
}

// do sends a JSON request and returns the refresh cookie value, if one was set.
func (c *client) do(ctx context.Context, method, path, bearer string, body any) (*http.Response, string, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return nil, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	var refresh string
	for _, ck := range res.Cookies() {
		if ck.Name == "refreshToken" && ck.Value != "" {
			refresh = ck.Value
		}
	}
	return res, refresh, nil
}

func (c *client) decode(res *http.Response, out any) error {
	defer res.Body.Close()
	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("server error: %s", env.Error)
	}
	return json.Unmarshal(env.Data, out)
}

func status(res *http.Response) any {
	if res == nil {
		return "none"
	}
	defer res.Body.Close()
	return res.StatusCode
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
