package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// worldCmd opens or closes the world through the loopback admin endpoints.
func worldCmd(args []string) {
	fs := flag.NewFlagSet("world", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	by := fs.String("by", "", "operator name for the audit notice (optional)")
	boot := fs.Bool("boot", false, "with close: disconnect everyone")
	_ = fs.Parse(args)

	op := strings.TrimSpace(fs.Arg(0))
	if op != "open" && op != "close" {
		fmt.Fprintln(os.Stderr, "usage: admin world [-url U] [-by NAME] [-boot] open|close")
		os.Exit(2)
	}
	q := url.Values{}
	if *by != "" {
		q.Set("by", *by)
	}
	if *boot && op == "close" {
		q.Set("boot", "1")
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/world/" + op
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, _ := http.NewRequest(http.MethodPost, u, nil)
	do(req, 10*time.Second)
}

func metricsCmd(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/metrics"
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	do(req, 5*time.Second)
}

func do(req *http.Request, timeout time.Duration) {
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimRight(string(b), "\n"))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
