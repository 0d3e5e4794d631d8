package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Body)
}

func postForm(ctx context.Context, hc *http.Client, provider, endpoint string, form url.Values, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		if len(body) > 200 {
			body = body[:200]
		}
		return &HTTPError{Provider: provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

type deepL struct {
	url  string
	key  string
	http *http.Client
}

func (d *deepL) Name() string { return "deepl" }

func (d *deepL) Translate(ctx context.Context, text, target string) (string, error) {
	if strings.TrimSpace(d.key) == "" {
		return "", fmt.Errorf("deepl: no api key")
	}
	form := url.Values{"text": {text}, "target_lang": {strings.ToUpper(target)}}
	hdr := http.Header{"Authorization": {"DeepL-Auth-Key " + d.key}}
	var out struct {
		Translations []struct {
			DetectedSourceLanguage string `json:"detected_source_language"`
			Text                   string `json:"text"`
		} `json:"translations"`
	}
	if err := postForm(ctx, d.http, d.Name(), d.url, form, hdr, &out); err != nil {
		return "", err
	}
	if len(out.Translations) == 0 {
		return "", fmt.Errorf("deepl: empty response")
	}
	return out.Translations[0].Text, nil
}

type libre struct {
	url  string
	http *http.Client
}

func (l *libre) Name() string { return "libre" }

func (l *libre) Translate(ctx context.Context, text, target string) (string, error) {
	form := url.Values{"q": {text}, "source": {"auto"}, "target": {target}, "format": {"text"}}
	var out struct {
		TranslatedText string `json:"translatedText"`
		Error          string `json:"error"`
	}
	if err := postForm(ctx, l.http, l.Name(), l.url, form, nil, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("libre: %s", out.Error)
	}
	return out.TranslatedText, nil
}
