// Package main runs a demo WebSocket client that replays a solve trace.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	do := func(method, path string, body []byte) *http.Response {
		req, _ := http.NewRequest(method, base+path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-Id", "t_demo")
		req.Header.Set("X-Role", "admin")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatal(err)
		}
		return resp
	}

	// Create a small dataset
	dsBody := []byte(`{"name":"demo","suppliers":[{"id":"S1","lat":40.0,"lng":-74.0}],
		"customers":[{"id":"C1","lat":41.0,"lng":-73.0}],
		"shipments":[{"origin":"S1","destination":"Warehouse","volume":100},
		{"origin":"Warehouse","destination":"C1","volume":50}]}`)
	resp := do(http.MethodPost, "/v1/datasets", dsBody)
	var ds struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ds); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("Dataset ID: %s", ds.ID)

	// Run a solve
	resp = do(http.MethodPost, "/v1/solve", []byte(fmt.Sprintf(`{"datasetId":%q}`, ds.ID)))
	var solveResp struct {
		Solve struct {
			ID string `json:"id"`
		} `json:"solve"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&solveResp); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	solveID := solveResp.Solve.ID
	log.Printf("Solve ID: %s", solveID)

	// Connect WS and replay the trace
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/solves/" + solveID + "/trace/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1"}); err != nil {
		log.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	_ = c.SetReadDeadline(deadline)
	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			log.Fatal(err)
		}
		switch msg.Type {
		case "next":
			log.Printf("trace: %s", msg.Payload)
		case "complete":
			log.Println("trace complete")
			return
		}
	}
}
