// Command dory-admin is a CLI client for the admin HTTP transport: it
// reads and writes attributes on a running doryd instance, and prompts
// for confirmation on a raw terminal before sending destructive writes.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var destructiveAttrs = map[string]bool{
	"stop":      true,
	"returnEIO": true,
}

func main() {
	var (
		addr     = flag.String("addr", "http://localhost:9099", "admin http server address")
		instance = flag.String("instance", "", "instance name")
		attr     = flag.String("attr", "", "attribute name (mode, state, statistics, cache, torn_mask, torn_modulus, stop, returnEIO)")
		value    = flag.String("value", "", "value to write; if empty, get instead of put")
		list     = flag.Bool("list", false, "list registered instances and exit")
		yes      = flag.Bool("yes", false, "skip the confirmation prompt for destructive writes")
	)
	flag.Parse()

	client := &http.Client{}

	if *list {
		if err := listInstances(client, *addr); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if *instance == "" || *attr == "" {
		fmt.Fprintln(os.Stderr, "usage: dory-admin -instance NAME -attr ATTR [-value V] [-yes]")
		os.Exit(2)
	}

	if *value == "" {
		result, err := getAttr(client, *addr, *instance, *attr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		fmt.Print(result)
		return
	}

	if destructiveAttrs[*attr] && !*yes {
		ok, err := confirm(fmt.Sprintf("write %q=%q to instance %q", *attr, *value, *instance))
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "aborted")
			os.Exit(1)
		}
	}

	if err := putAttr(client, *addr, *instance, *attr, *value); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func listInstances(client *http.Client, addr string) error {
	resp, err := client.Get(addr + "/dory")
	if err != nil {
		return fmt.Errorf("request instances: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("server: %s", out.Error)
	}
	var names []string
	if err := json.Unmarshal(out.Data, &names); err != nil {
		return fmt.Errorf("decode instance list: %w", err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func getAttr(client *http.Client, addr, instance, attr string) (string, error) {
	url := fmt.Sprintf("%s/dory/%s/attr/%s", addr, instance, attr)
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("request attribute: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var out apiResponse
		if json.Unmarshal(body, &out) == nil && out.Error != "" {
			return "", fmt.Errorf("server: %s", out.Error)
		}
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var out apiResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if !out.Success {
			return "", fmt.Errorf("server: %s", out.Error)
		}
		return string(out.Data) + "\n", nil
	}
	return string(body), nil
}

func putAttr(client *http.Client, addr, instance, attr, value string) error {
	url := fmt.Sprintf("%s/dory/%s/attr/%s", addr, instance, attr)
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(value))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("server: %s", out.Error)
	}
	return nil
}

// confirm prompts on the controlling terminal before a destructive write,
// falling back to a plain stdin readline when stdin isn't a terminal.
func confirm(action string) (bool, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprintf(os.Stderr, "about to %s, proceed? (y/n): ", action)
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return false, fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		return response == "y" || response == "yes", nil
	}

	fmt.Fprintf(os.Stderr, "about to %s, proceed? (y/n): ", action)
	state, err := term.MakeRaw(int(syscall.Stdin))
	if err != nil {
		return false, fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(int(syscall.Stdin), state)

	buf := make([]byte, 1)
	if _, err := os.Stdin.Read(buf); err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	fmt.Fprintln(os.Stderr)
	c := buf[0] | 0x20
	return c == 'y', nil
}
