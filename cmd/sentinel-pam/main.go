// sentinel-pam is the lightweight client invoked from a PAM stack. It
// forwards one headless authentication request to the daemon and maps the
// outcome to the process exit status. Any transport, parse or daemon error
// results in a failure exit: the client never fails open.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

const (
	defaultSocketPath = "/run/sentinel/sentinel.sock"
	dialTimeout       = 5 * time.Second
	// The daemon may spend its full decision budget plus model warmup
	// before answering.
	responseDeadline = 15 * time.Second
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  map[string]string `json:"params"`
	ID      int               `json:"id"`
}

type rpcResponse struct {
	Result struct {
		Result string `json:"result"`
	} `json:"result"`
}

func resolveUser() string {
	if user := os.Getenv("PAM_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	return ""
}

func socketPath() string {
	if path := os.Getenv("SENTINEL_SOCKET_PATH"); path != "" {
		return path
	}
	return defaultSocketPath
}

func authenticate(user string) bool {
	conn, err := net.DialTimeout("unix", socketPath(), dialTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(responseDeadline))

	request := rpcRequest{
		JSONRPC: "2.0",
		Method:  "authenticate_pam",
		Params:  map[string]string{"user": user},
		ID:      100,
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return false
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return false
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return false
	}
	var response rpcResponse
	if err := json.Unmarshal(line, &response); err != nil {
		return false
	}
	return response.Result.Result == "SUCCESS"
}

func main() {
	user := resolveUser()
	if user == "" {
		fmt.Fprintln(os.Stderr, "sentinel-pam: no user specified")
		os.Exit(1)
	}
	if authenticate(user) {
		os.Exit(0)
	}
	os.Exit(1)
}
