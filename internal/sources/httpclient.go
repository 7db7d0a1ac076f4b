package sources

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/matchday-live/scraper/internal/browser"
	"github.com/matchday-live/scraper/internal/ratelimit"
)

// maxBodyBytes caps how much of a response the feed sources will read.
const maxBodyBytes = 8 << 20

// NewHTTPClient builds the client shared by the plain-HTTP sources.
// Compression is disabled on the transport so brotli responses can be
// decoded by hand.
func NewHTTPClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Jar:     jar,
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   15 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableCompression:  true,
		},
	}
}

// fetchText GETs a URL with browserish headers through the shared rate
// limiter and returns the decoded body and status code. The limiter sees
// the response status so 403/429 widen the domain's cooldown.
func fetchText(ctx context.Context, env *Env, domain, rawURL string, headers map[string]string) (string, int, error) {
	key := ratelimit.Key(domain)
	if err := env.Limiter.Wait(ctx, key); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", browser.RandomUserAgent())
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := env.HTTP.Do(req)
	if err != nil {
		env.Limiter.RecordFailure(key)
		return "", 0, err
	}
	defer resp.Body.Close()
	env.Limiter.Observe(key, resp.StatusCode)

	reader, err := decodeBody(resp)
	if err != nil {
		return "", resp.StatusCode, err
	}
	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

// decodeBody unwraps gzip, deflate or brotli content encodings.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	}
	return resp.Body, nil
}
