// Package geo resolves network addresses to countries and gates users on an
// allow-list of countries.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/linkguard/core/netutil"
)

// UnknownCountry is reported when an address could not be resolved.
const UnknownCountry = "Unknown"

// ErrUnavailable is returned by a Provider that could not produce a result.
var ErrUnavailable = errors.New("geo: provider unavailable")

// Location is the result of a lookup.
type Location struct {
	Address  string
	Known    bool
	Country  string
	Region   string
	City     string
	ISP      string
	Timezone string
}

// Unknown returns the location reported when a lookup fails.
func Unknown(addr string) Location {
	return Location{Address: addr, Country: UnknownCountry}
}

// Provider resolves an address. An empty address means the address the
// request originates from.
type Provider interface {
	Lookup(ctx context.Context, addr string) (Location, error)
}

// IPAPI queries an ip-api.com compatible endpoint.
type IPAPI struct {
	BaseURL string
	Client  *http.Client
}

// NewIPAPI returns a provider for baseURL using a short-lived retrying
// client.
func NewIPAPI(baseURL string, timeout time.Duration) *IPAPI {
	return &IPAPI{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout: timeout,
			Transport: &netutil.RetryTransport{
				Base:       http.DefaultTransport,
				MaxRetries: 1,
				Backoff:    200 * time.Millisecond,
			},
		},
	}
}

type ipapiResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Query      string `json:"query"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
	ISP        string `json:"isp"`
	Timezone   string `json:"timezone"`
}

// Lookup implements Provider.
func (p *IPAPI) Lookup(ctx context.Context, addr string) (Location, error) {
	if addr != "" && net.ParseIP(addr) == nil {
		return Location{}, fmt.Errorf("%w: bad address %q", ErrUnavailable, addr)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/json/"+addr, nil)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Location{}, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}
	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if body.Status != "success" || body.Country == "" {
		return Location{}, fmt.Errorf("%w: %s", ErrUnavailable, body.Message)
	}

	address := body.Query
	if address == "" {
		address = addr
	}
	return Location{
		Address:  address,
		Known:    true,
		Country:  body.Country,
		Region:   body.RegionName,
		City:     body.City,
		ISP:      body.ISP,
		Timezone: body.Timezone,
	}, nil
}
