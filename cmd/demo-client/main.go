// Command demo-client walks a fresh server through a full customer journey:
// signup, opening two accounts, a deposit, a transfer between them, and
// finally a statement for each account.
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

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type account struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Currency string `json:"currency"`
	Balance  int64  `json:"balance"`
}

type statement struct {
	AccountID    int64 `json:"account_id"`
	Balance      int64 `json:"balance"`
	Transactions []struct {
		Type   string `json:"type"`
		Amount int64  `json:"amount"`
	} `json:"transactions"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
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
	if resp.StatusCode >= 400 {
		var e map[string]any
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %v", method, path, resp.StatusCode, e)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func main() {
	base := flag.String("base", "http://localhost:8080/api/v1", "API base URL")
	flag.Parse()

	c := &client{base: *base, http: &http.Client{Timeout: 10 * time.Second}}
	email := fmt.Sprintf("ada+%d@example.com", time.Now().Unix())

	password := "correct horse battery staple"
	if err := c.do("POST", "/auth/signup", map[string]any{
		"email":      email,
		"password":   password,
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"dob":        "1990-01-01",
	}, nil); err != nil {
		log.Fatalf("signup: %v", err)
	}
	log.Printf("Signed up %s", email)

	var tokens tokenResponse
	if err := c.do("POST", "/auth/login", map[string]any{
		"email": email, "password": password,
	}, &tokens); err != nil {
		log.Fatalf("login: %v", err)
	}
	c.token = tokens.AccessToken
	log.Printf("Logged in (token type %s)", tokens.TokenType)

	var checking account
	if err := c.do("POST", "/accounts", map[string]any{
		"type": "checking", "currency": "USD",
	}, &checking); err != nil {
		log.Fatalf("open checking: %v", err)
	}
	log.Printf("Opened checking account %d", checking.ID)

	if err := c.do("POST", "/transactions", map[string]any{
		"account_id": checking.ID, "type": "deposit", "amount": 10000, "currency": "USD",
	}, nil); err != nil {
		log.Fatalf("deposit: %v", err)
	}
	log.Printf("Deposited 10000 minor units")

	var savings account
	if err := c.do("POST", "/accounts", map[string]any{
		"type": "savings", "currency": "USD",
	}, &savings); err != nil {
		log.Fatalf("open savings: %v", err)
	}
	log.Printf("Opened savings account %d", savings.ID)

	if err := c.do("POST", "/transfers", map[string]any{
		"from_account_id": checking.ID, "to_account_id": savings.ID,
		"amount": 2500, "currency": "USD",
	}, nil); err != nil {
		log.Fatalf("transfer: %v", err)
	}
	log.Printf("Transferred 2500 minor units to savings")

	for _, id := range []int64{checking.ID, savings.ID} {
		var st statement
		if err := c.do("GET", fmt.Sprintf("/statements/%d", id), nil, &st); err != nil {
			log.Fatalf("statement %d: %v", id, err)
		}
		log.Printf("Account %d balance=%d entries=%d", st.AccountID, st.Balance, len(st.Transactions))
	}
}
