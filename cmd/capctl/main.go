// capctl is the operator CLI: feed UIDs and keywords into the farm, check
// queue health, and process withdrawals, all over the server's HTTP API.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/odong444/cap-api/pkg/capapi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "add-uids":
		runAddUIDs(os.Args[2:])
	case "add-keywords":
		runAddKeywords(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "withdrawals":
		runWithdrawals(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: capctl <add-uids|add-keywords|status|withdrawals> [...]")
}

func runAddUIDs(args []string) {
	fs := flag.NewFlagSet("add-uids", flag.ExitOnError)
	url := fs.String("url", serverURL(), "server URL")
	file := fs.String("file", "-", "file with one UID per line, - for stdin")
	keyword := fs.String("keyword", "", "keyword tag for the whole batch")
	_ = fs.Parse(args)

	lines, err := readLines(*file)
	if err != nil {
		fatalf("read uids: %v", err)
	}
	req := capapi.AddUIDsRequest{}
	for _, line := range lines {
		req.UIDs = append(req.UIDs, capapi.AddUIDItem{UID: line, Keyword: *keyword})
	}
	if len(req.UIDs) == 0 {
		fatalf("no uids to add")
	}
	var resp capapi.AddUIDsResponse
	postJSON(*url+"/api/worker/add-uids", "", req, &resp)
	fmt.Printf("added %d of %d uids\n", resp.Added, len(req.UIDs))
}

func runAddKeywords(args []string) {
	fs := flag.NewFlagSet("add-keywords", flag.ExitOnError)
	url := fs.String("url", serverURL(), "server URL")
	file := fs.String("file", "-", "file with one keyword per line, - for stdin")
	maxCount := fs.Int("max-count", 100, "collection target per keyword")
	token := fs.String("token", os.Getenv("CAP_ADMIN_TOKEN"), "admin bearer token")
	_ = fs.Parse(args)

	lines, err := readLines(*file)
	if err != nil {
		fatalf("read keywords: %v", err)
	}
	var resp capapi.BulkAddKeywordsResponse
	postJSON(*url+"/api/admin/keywords/bulk", *token, capapi.BulkAddKeywordsRequest{
		Keywords: strings.Join(lines, "\n"),
		MaxCount: *maxCount,
	}, &resp)
	fmt.Printf("added %d keywords\n", resp.Added)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	url := fs.String("url", serverURL(), "server URL")
	_ = fs.Parse(args)

	resp, err := http.Get(*url + "/api/status")
	if err != nil {
		fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var st capapi.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fatalf("decode status: %v", err)
	}
	fmt.Printf("pending uids:      %d\n", st.PendingUIDs)
	fmt.Printf("claimed uids:      %d\n", st.ClaimedUIDs)
	fmt.Printf("completed uids:    %d\n", st.CompletedUIDs)
	fmt.Printf("active sessions:   %d\n", st.ActiveSessions)
	fmt.Printf("pending keywords:  %d\n", st.PendingKeywords)
	fmt.Printf("workers:           %d\n", st.TotalWorkers)
}

func runWithdrawals(args []string) {
	fs := flag.NewFlagSet("withdrawals", flag.ExitOnError)
	url := fs.String("url", serverURL(), "server URL")
	token := fs.String("token", os.Getenv("CAP_ADMIN_TOKEN"), "admin bearer token")
	status := fs.String("status", "pending", "filter by status, empty for all")
	process := fs.Int64("process", 0, "withdrawal id to process")
	action := fs.String("action", "", "approve or reject, with --process")
	_ = fs.Parse(args)

	if *process != 0 {
		var ack capapi.Ack
		postJSON(fmt.Sprintf("%s/api/admin/withdrawals/%d/process", *url, *process), *token,
			capapi.ProcessWithdrawalRequest{Action: *action}, &ack)
		fmt.Println(ack.Message)
		return
	}

	req, err := http.NewRequest(http.MethodGet, *url+"/api/admin/withdrawals?status="+*status, nil)
	if err != nil {
		fatalf("new request: %v", err)
	}
	setAuth(req, *token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("list withdrawals: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("list withdrawals: %s", resp.Status)
	}
	var list capapi.WithdrawalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		fatalf("decode withdrawals: %v", err)
	}
	for _, w := range list.Withdrawals {
		fmt.Printf("#%d  %s  %d  %s  %s %s (%s)\n",
			w.ID, w.Status, w.Amount, w.UserID, w.BankName, w.AccountNumber, w.AccountHolder)
	}
}

func serverURL() string {
	if v := os.Getenv("CAP_SERVER_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://localhost:8080"
}

func readLines(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}

func postJSON(url, token string, reqBody, respBody any) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req, token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("request %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("request %s: %s", url, resp.Status)
	}
	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			fatalf("decode response: %v", err)
		}
	}
}

func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
