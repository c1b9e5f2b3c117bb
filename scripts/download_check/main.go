package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/internal/service"
	"github.com/noah-isme/orders-api/pkg/config"
)

type linkCheck struct {
	OrderID  string
	Link     models.DownloadLink
	Status   int
	Bytes    int64
	Revoked  bool
	Error    error
	Duration time.Duration
}

type linksEnvelope struct {
	Data  []models.DownloadLink `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	var (
		base    string
		scheme  string
		orders  string
		user    string
		timeout time.Duration
		reissue bool
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api", "Orders API base URL including the API prefix")
	flag.StringVar(&scheme, "scheme", "http", "Scheme prepended to the scheme-less download links")
	flag.StringVar(&orders, "orders", "", "Comma separated order ids to check")
	flag.StringVar(&user, "user", "download-check", "User id placed in the signed access token")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "HTTP client timeout")
	flag.BoolVar(&reissue, "reissue", true, "Issue links twice and require the first set to be revoked")
	flag.Parse()

	ids := splitOrders(orders)
	if len(ids) == 0 {
		log.Fatalf("no orders given, use -orders 42,43")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	auth := service.NewAuthService(nil, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: time.Hour,
	})
	token, _, err := auth.IssueToken(user, "", "")
	if err != nil {
		log.Fatalf("failed to sign access token: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	var (
		results  []linkCheck
		failures int
	)
	for _, id := range ids {
		var stale []models.DownloadLink
		if reissue {
			stale, err = issueLinks(client, base, token, id)
			if err != nil {
				results = append(results, linkCheck{OrderID: id, Error: err})
				failures++
				continue
			}
		}

		links, err := issueLinks(client, base, token, id)
		if err != nil {
			results = append(results, linkCheck{OrderID: id, Error: err})
			failures++
			continue
		}
		for _, link := range links {
			res := fetch(client, scheme, id, link)
			if res.Error != nil || res.Status != http.StatusOK || res.Bytes != link.Size {
				failures++
			}
			results = append(results, res)
		}
		for _, link := range stale {
			res := fetch(client, scheme, id, link)
			res.Revoked = true
			if res.Error != nil || res.Status != http.StatusNotFound {
				failures++
			}
			results = append(results, res)
		}
	}

	printReport(results)
	fmt.Printf("Failures: %d\n", failures)
	if failures > 0 {
		os.Exit(1)
	}
}

func splitOrders(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func issueLinks(client *http.Client, base, token, orderID string) ([]models.DownloadLink, error) {
	url := strings.TrimRight(base, "/") + "/orders/" + orderID
	req, err := http.NewRequest(http.MethodPut, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope linksEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode links of order %s: %w", orderID, err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("issue links of order %s: %s (%s)", orderID, envelope.Error.Message, envelope.Error.Code)
	}
	if len(envelope.Data) == 0 {
		return nil, errors.New("no links returned")
	}
	return envelope.Data, nil
}

func fetch(client *http.Client, scheme, orderID string, link models.DownloadLink) linkCheck {
	res := linkCheck{OrderID: orderID, Link: link}
	url := link.URL
	if !strings.Contains(url, "://") {
		url = scheme + "://" + url
	}

	start := time.Now()
	resp, err := client.Get(url)
	if err != nil {
		res.Error = err
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	res.Bytes, res.Error = io.Copy(io.Discard, resp.Body)
	res.Duration = time.Since(start)
	return res
}

func printReport(results []linkCheck) {
	fmt.Println("Download Check Report")
	fmt.Println("=====================")
	for _, res := range results {
		kind := "current"
		if res.Revoked {
			kind = "revoked"
		}
		if res.Link.Name == "" {
			fmt.Printf("[ERROR] order %s\n  Error: %v\n", res.OrderID, res.Error)
			continue
		}
		fmt.Printf("[%s] order %s %s (%s)\n", kind, res.OrderID, res.Link.Name, res.Duration)
		fmt.Printf("  Status: %d | Bytes: %d/%d\n", res.Status, res.Bytes, res.Link.Size)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
		}
	}
}
