// Command scan_smoke drives the full QR attendance round trip against a
// running instance: login as faculty, schedule a session, issue a token, login
// as a student, scan it, and verify the duplicate rejection on a second scan.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

type client struct {
	base  string
	http  *http.Client
	token string
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	var (
		base            string
		facultyEmail    string
		facultyPassword string
		studentEmail    string
		studentPassword string
		timeout         time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&facultyEmail, "faculty-email", "faculty@example.com", "Faculty login email")
	flag.StringVar(&facultyPassword, "faculty-password", "password", "Faculty login password")
	flag.StringVar(&studentEmail, "student-email", "student@example.com", "Student login email")
	flag.StringVar(&studentPassword, "student-password", "password", "Student login password")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	faculty := &client{base: base, http: &http.Client{Timeout: timeout}}
	student := &client{base: base, http: &http.Client{Timeout: timeout}}

	if err := faculty.login(facultyEmail, facultyPassword); err != nil {
		log.Fatalf("faculty login failed: %v", err)
	}
	if err := student.login(studentEmail, studentPassword); err != nil {
		log.Fatalf("student login failed: %v", err)
	}

	var session struct {
		ID string `json:"id"`
	}
	err := faculty.call(http.MethodPost, "/sessions", map[string]interface{}{
		"subject_id":      "SMOKE-101",
		"subject_name":    "Smoke Test",
		"scheduled_start": time.Now().UTC().Format(time.RFC3339),
	}, &session)
	if err != nil {
		log.Fatalf("create session failed: %v", err)
	}
	log.Printf("session created: %s", session.ID)

	var issued struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := faculty.call(http.MethodPost, "/sessions/"+session.ID+"/qr", nil, &issued); err != nil {
		log.Fatalf("issue token failed: %v", err)
	}
	log.Printf("token issued, expires %s", issued.ExpiresAt.Format(time.RFC3339))

	var scan struct {
		Record struct {
			Status string `json:"status"`
		} `json:"record"`
	}
	if err := student.call(http.MethodPost, "/attendance", map[string]interface{}{"token": issued.Token}, &scan); err != nil {
		log.Fatalf("scan failed: %v", err)
	}
	log.Printf("scan accepted with status %q", scan.Record.Status)

	err = student.call(http.MethodPost, "/attendance", map[string]interface{}{"token": issued.Token}, nil)
	if err == nil {
		log.Fatal("second scan unexpectedly accepted")
	}
	log.Printf("second scan rejected as expected: %v", err)
	log.Print("smoke test passed")
}

func (c *client) login(email, password string) error {
	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.call(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &result); err != nil {
		return err
	}
	c.token = result.AccessToken
	return nil
}

func (c *client) call(method, path string, payload, dest interface{}) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d, undecodable body", method, path, resp.StatusCode)
	}
	if env.Error != nil {
		return fmt.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, env.Error.Code, env.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if dest != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, dest)
	}
	return nil
}
