package alert

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"xbt-alerts/internal/config"
	"xbt-alerts/internal/telegram"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type botRecorder struct {
	mu       sync.Mutex
	photoErr int // HTTP status to fail sendPhoto with, 0 = succeed
	photos   []string
	messages []string
}

func (b *botRecorder) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendPhoto"):
			if b.photoErr != 0 {
				w.WriteHeader(b.photoErr)
				fmt.Fprint(w, `{"ok":false,"description":"photo rejected","error_code":400}`)
				return
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("sendPhoto form: %v", err)
			}
			b.photos = append(b.photos, r.FormValue("caption"))
			fmt.Fprint(w, `{"ok":true}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err != nil {
				t.Errorf("sendMessage form: %v", err)
			}
			b.messages = append(b.messages, r.FormValue("text"))
			fmt.Fprint(w, `{"ok":true}`)
		default:
			t.Errorf("unexpected call: %s", r.URL.Path)
		}
	})
}

func testDispatcher(t *testing.T, bot *botRecorder, mutate func(*config.Config)) *Dispatcher {
	t.Helper()

	srv := httptest.NewServer(bot.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.BotToken = "123:token"
	cfg.BotOwner = 1
	cfg.ActiveChatIDs = []int64{-100123, -100456}
	if mutate != nil {
		mutate(&cfg)
	}
	store := config.NewStore(filepath.Join(t.TempDir(), "config.json"), cfg)

	tg := telegram.NewClient("123:token", telegram.WithBaseURL(srv.URL))
	return NewDispatcher(store, tg, nil, testLogger())
}

func TestDeliverTextToAllChats(t *testing.T) {
	t.Parallel()

	bot := &botRecorder{}
	d := testDispatcher(t, bot, nil)

	d.deliver(t.Context(), singleRecord())

	if len(bot.messages) != 2 {
		t.Fatalf("got %d messages, want one per chat", len(bot.messages))
	}
	if !strings.Contains(bot.messages[0], "XBT Buy") {
		t.Errorf("message body = %q", bot.messages[0])
	}
	if len(bot.photos) != 0 {
		t.Errorf("photos sent with no image configured")
	}
}

func TestDeliverImageFirst(t *testing.T) {
	t.Parallel()

	img := filepath.Join(t.TempDir(), "alert.png")
	if err := os.WriteFile(img, []byte("png"), 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}

	bot := &botRecorder{}
	d := testDispatcher(t, bot, func(c *config.Config) {
		c.ImagePath = img
		c.ActiveChatIDs = []int64{-100123}
	})

	d.deliver(t.Context(), singleRecord())

	if len(bot.photos) != 1 || len(bot.messages) != 0 {
		t.Fatalf("photos = %d, messages = %d; want photo only", len(bot.photos), len(bot.messages))
	}
	if !strings.Contains(bot.photos[0], "XBT Buy") {
		t.Errorf("caption = %q", bot.photos[0])
	}
}

func TestDeliverFallsBackToText(t *testing.T) {
	t.Parallel()

	img := filepath.Join(t.TempDir(), "alert.png")
	if err := os.WriteFile(img, []byte("png"), 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}

	bot := &botRecorder{photoErr: http.StatusBadRequest}
	d := testDispatcher(t, bot, func(c *config.Config) {
		c.ImagePath = img
		c.ActiveChatIDs = []int64{-100123}
	})

	d.deliver(t.Context(), singleRecord())

	if len(bot.messages) != 1 {
		t.Fatalf("fallback message not sent (messages = %d)", len(bot.messages))
	}
}

func TestDeliverMissingImageUsesText(t *testing.T) {
	t.Parallel()

	bot := &botRecorder{}
	d := testDispatcher(t, bot, func(c *config.Config) {
		c.ImagePath = filepath.Join(t.TempDir(), "missing.png")
		c.ActiveChatIDs = []int64{-100123}
	})

	d.deliver(t.Context(), singleRecord())

	if len(bot.photos) != 0 || len(bot.messages) != 1 {
		t.Fatalf("photos = %d, messages = %d; want text only", len(bot.photos), len(bot.messages))
	}
}

func TestDispatchNeverBlocks(t *testing.T) {
	t.Parallel()

	bot := &botRecorder{}
	d := testDispatcher(t, bot, nil)

	// Nothing drains the inbox; overflow must drop instead of blocking.
	for i := 0; i < inboxSize+10; i++ {
		d.Dispatch(singleRecord())
	}
}
