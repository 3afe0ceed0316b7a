package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const fetchPageSize = 500

// PhotoPrism is a PhotoLibrary backed by a PhotoPrism server.
type PhotoPrism struct {
	apiURL        string
	parsedURL     *url.URL
	token         string
	downloadToken string
	client        *http.Client
}

// NewPhotoPrism authenticates against the server and returns a ready
// client.
func NewPhotoPrism(ctx context.Context, rawURL, username, password string) (*PhotoPrism, error) {
	apiURL := rawURL + "/api/v1"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid library URL: %w", err)
	}

	pp := &PhotoPrism{
		apiURL:    apiURL,
		parsedURL: parsed,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
	if err := pp.auth(ctx, username, password); err != nil {
		return nil, fmt.Errorf("could not authenticate: %w", err)
	}
	return pp, nil
}

func (pp *PhotoPrism) auth(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("could not marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pp.resolveURL("sessions"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := pp.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("session request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var session struct {
		AccessToken string `json:"access_token"`
		Config      struct {
			DownloadToken string `json:"downloadToken"`
		} `json:"config"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("could not decode session response: %w", err)
	}

	pp.token = session.AccessToken
	pp.downloadToken = session.Config.DownloadToken
	return nil
}

// resolveURL builds a full URL from the base API URL and the given path
// segments. A query string on the last segment is carried over.
func (pp *PhotoPrism) resolveURL(segments ...string) string {
	if len(segments) == 0 {
		return pp.parsedURL.String()
	}
	last := segments[len(segments)-1]
	if path, query, ok := cutQuery(last); ok {
		segments[len(segments)-1] = path
		result := pp.parsedURL.JoinPath(segments...)
		result.RawQuery = query
		return result.String()
	}
	return pp.parsedURL.JoinPath(segments...).String()
}

func cutQuery(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '?' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// photo mirrors the fields of the search response this client reads.
type photo struct {
	UID     string  `json:"UID"`
	TakenAt string  `json:"TakenAt"`
	Lat     float64 `json:"Lat"`
	Lng     float64 `json:"Lng"`
	Hash    string  `json:"Hash"`
	Type    string  `json:"Type"`
}

func (pp *PhotoPrism) Fetch(ctx context.Context, r Range, limit int) ([]Asset, error) {
	var assets []Asset
	offset := 0
	for {
		page := fetchPageSize
		if limit > 0 && limit-len(assets) < page {
			page = limit - len(assets)
		}
		if page <= 0 {
			break
		}

		photos, err := pp.searchPage(ctx, r, page, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range photos {
			if p.Type != "" && p.Type != "image" {
				continue
			}
			asset := Asset{ID: p.UID}
			if t, err := time.Parse(time.RFC3339, p.TakenAt); err == nil {
				asset.TakenAt = t
			}
			if p.Lat != 0 || p.Lng != 0 {
				lat, lng := p.Lat, p.Lng
				asset.Lat, asset.Lng = &lat, &lng
			}
			assets = append(assets, asset)
		}

		if len(photos) < page {
			break
		}
		offset += len(photos)
	}
	return assets, nil
}

func (pp *PhotoPrism) Count(ctx context.Context, r Range) (int, error) {
	count := 0
	offset := 0
	for {
		photos, err := pp.searchPage(ctx, r, fetchPageSize, offset)
		if err != nil {
			return 0, err
		}
		count += len(photos)
		if len(photos) < fetchPageSize {
			return count, nil
		}
		offset += len(photos)
	}
}

func (pp *PhotoPrism) searchPage(ctx context.Context, r Range, count, offset int) ([]photo, error) {
	endpoint := fmt.Sprintf("photos?count=%d&offset=%d&order=oldest", count, offset)
	if q := rangeQuery(r); q != "" {
		endpoint += "&q=" + url.QueryEscape(q)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pp.resolveURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+pp.token)

	resp, err := pp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var photos []photo
	if err := json.NewDecoder(resp.Body).Decode(&photos); err != nil {
		return nil, fmt.Errorf("could not decode search response: %w", err)
	}
	return photos, nil
}

// rangeQuery translates a Range into the server's after/before filters.
func rangeQuery(r Range) string {
	q := ""
	if !r.Start.IsZero() {
		q = "after:" + r.Start.Format("2006-01-02")
	}
	if !r.End.IsZero() {
		if q != "" {
			q += " "
		}
		q += "before:" + r.End.Format("2006-01-02")
	}
	return q
}

// Image downloads the primary file of an asset. Detection coordinates
// are relative to the primary file, so that exact file must be fetched.
func (pp *PhotoPrism) Image(ctx context.Context, assetID string) ([]byte, error) {
	details, err := pp.photoDetails(ctx, assetID)
	if err != nil {
		return nil, err
	}

	hash := primaryFileHash(details)
	if hash == "" {
		return nil, fmt.Errorf("asset %s: %w", assetID, ErrImageUnavailable)
	}

	u := fmt.Sprintf("%s/dl/%s?t=%s", pp.apiURL, hash, pp.downloadToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := pp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("asset %s: %w", assetID, ErrImageUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read image: %w", err)
	}
	return data, nil
}

func (pp *PhotoPrism) photoDetails(ctx context.Context, assetID string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pp.resolveURL("photos", assetID), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+pp.token)

	resp, err := pp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("asset %s: %w", assetID, ErrImageUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("details failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var details map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("could not decode details: %w", err)
	}
	return details, nil
}

func primaryFileHash(details map[string]any) string {
	files, ok := details["Files"].([]any)
	if !ok || len(files) == 0 {
		return ""
	}
	for _, f := range files {
		file, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if primary, _ := file["Primary"].(bool); primary {
			if hash, _ := file["Hash"].(string); hash != "" {
				return hash
			}
		}
	}
	if first, ok := files[0].(map[string]any); ok {
		hash, _ := first["Hash"].(string)
		return hash
	}
	return ""
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(r)
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}
