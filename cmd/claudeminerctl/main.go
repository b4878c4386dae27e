// Command claudeminerctl is a thin HTTP client over claudeminerd's §6
// command surface: listing sessions and force-killing one by pid. It
// speaks to a running daemon over the loopback server, the way the
// teacher's frontend speaks to ws/server.go's routes, minus the browser.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	host := flag.String("host", "127.0.0.1", "claudeminerd host")
	port := flag.Int("port", 7890, "claudeminerd port")
	token := flag.String("token", "", "auth token, if the daemon requires one")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: claudeminerctl [-host H] [-port P] [-token T] list|kill <pid>")
		os.Exit(2)
	}

	base := fmt.Sprintf("http://%s:%d", *host, *port)

	var err error
	switch args[0] {
	case "list":
		err = list(base, *token)
	case "kill":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: claudeminerctl kill <pid>")
			os.Exit(2)
		}
		err = kill(base, *token, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "claudeminerctl: %v\n", err)
		os.Exit(1)
	}
}

func list(base, token string) error {
	url := base + "/api/sessions"
	if token != "" {
		url += "?token=" + token
	}
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, body)
	}

	var views []map[string]any
	if err := json.Unmarshal(body, &views); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func kill(base, token, pid string) error {
	url := fmt.Sprintf("%s/api/sessions/%s/kill", base, pid)
	if token != "" {
		url += "?token=" + token
	}
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, body)
	}
	fmt.Println(string(body))
	return nil
}
