package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/starford/deepnote/internal/apperr"
)

func TestParseResearch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(*testing.T, *Result)
	}{
		{
			name:    "plain json",
			content: `{"summary":"Disneyland is a park.","content":"- Opened 1955","concepts":["Walt Disney"," "],"questions":["Why?"]}`,
			check: func(t *testing.T, r *Result) {
				if r.Summary != "Disneyland is a park." {
					t.Errorf("summary = %q", r.Summary)
				}
				if len(r.Concepts) != 1 || r.Concepts[0] != "Walt Disney" {
					t.Errorf("concepts = %v", r.Concepts)
				}
			},
		},
		{
			name:    "json wrapped in prose",
			content: "Here you go:\n```json\n{\"summary\":\"S\",\"content\":\"C\"}\n```",
			check: func(t *testing.T, r *Result) {
				if r.Summary != "S" || r.Content != "C" {
					t.Errorf("got %+v", r)
				}
			},
		},
		{name: "not json", content: "I cannot help with that.", wantErr: true},
		{name: "empty fields", content: `{"summary":" ","content":""}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := parseResearch(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", r)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, r)
		})
	}
}

func TestParseClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		answer string
		want   []string
	}{
		{"none", nil},
		{"None.", nil},
		{"", nil},
		{"Disneyland, Walt Disney", []string{"Disneyland", "Walt Disney"}},
		{"- [[Epcot]]\n- \"Magic Kingdom\"", []string{"Epcot", "Magic Kingdom"}},
	}
	for _, tt := range tests {
		got := parseClassification(tt.answer)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("parseClassification(%q) = %q, want %q", tt.answer, got, tt.want)
		}
	}
}

func TestTruncate_RuneSafe(t *testing.T) {
	s := strings.Repeat("é", 10) // 20 bytes
	got := truncate(s, 5)
	if got != "éé" {
		t.Errorf("truncate = %q", got)
	}
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	if _, err := NewOpenAI(Config{}, slog.Default()); err == nil {
		t.Error("expected error without api key")
	}
}

func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chatBody(content string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%q}}]}`, content)
}

func testClient(t *testing.T, url string) *OpenAI {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	o, err := NewOpenAI(Config{APIKey: "sk-test", BaseURL: url}, logger)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestOpenAI_Research(t *testing.T) {
	srv := chatServer(t, http.StatusOK, chatBody(`{"summary":"Walt Disney opened it.","content":"- Anaheim","concepts":["Walt Disney"]}`))
	o := testClient(t, srv.URL)

	res, err := o.Research(context.Background(), "Disneyland")
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if res.Summary != "Walt Disney opened it." || len(res.Concepts) != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestOpenAI_ResearchMalformedIsFetchError(t *testing.T) {
	srv := chatServer(t, http.StatusOK, chatBody("sorry"))
	o := testClient(t, srv.URL)

	_, err := o.Research(context.Background(), "Disneyland")
	if !errors.Is(err, apperr.ErrFetch) {
		t.Errorf("err = %v, want ErrFetch", err)
	}
}

func TestOpenAI_ClassifyFailureIsUnavailable(t *testing.T) {
	srv := chatServer(t, http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error","code":"bad_request"}}`)
	o := testClient(t, srv.URL)

	_, err := o.Classify(context.Background(), "text", []string{"Disneyland"})
	if !errors.Is(err, apperr.ErrClassificationUnavailable) {
		t.Errorf("err = %v, want ErrClassificationUnavailable", err)
	}
}

func TestOpenAI_Classify(t *testing.T) {
	srv := chatServer(t, http.StatusOK, chatBody("Disneyland"))
	o := testClient(t, srv.URL)

	got, err := o.Classify(context.Background(), "text", []string{"Disneyland", "Epcot"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 1 || got[0] != "Disneyland" {
		t.Errorf("got %v", got)
	}
}

func TestIsRateLimitAndQuota(t *testing.T) {
	if !IsRateLimitError(errors.New("POST: 429 Too Many Requests")) {
		t.Error("429 not detected")
	}
	if !IsQuotaError(errors.New(`{"code":"insufficient_quota"}`)) {
		t.Error("quota not detected")
	}
	if IsRateLimitError(nil) || IsQuotaError(nil) {
		t.Error("nil error classified")
	}
	if Cause(context.DeadlineExceeded) != "timed out" {
		t.Errorf("Cause = %q", Cause(context.DeadlineExceeded))
	}
}
