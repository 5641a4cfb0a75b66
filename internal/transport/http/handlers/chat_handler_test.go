package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vedran77/stratchat/internal/auth"
	"github.com/vedran77/stratchat/internal/domain"
	"github.com/vedran77/stratchat/internal/logger"
	"github.com/vedran77/stratchat/internal/repository/memory"
	"github.com/vedran77/stratchat/internal/service"
	"github.com/vedran77/stratchat/internal/transport/http/handlers"
	"github.com/vedran77/stratchat/internal/transport/http/middleware"
)

const secret = "handler-test-secret"

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

var _ = Describe("ChatHandler", func() {
	var (
		router http.Handler
		tokens map[int64]string
	)

	BeforeEach(func() {
		store := memory.New()
		store.AddUser(domain.User{ID: 1, Name: "Alice"})
		store.AddUser(domain.User{ID: 2, Name: "Bob"})
		store.AddUser(domain.User{ID: 3, Name: "Carol"})
		store.AddStrategy(domain.Strategy{ID: 5, Name: "Momentum", OwnerID: 2})

		log := logger.Discard()
		svc := service.NewChatService(store.Chats(), store.Messages(), store.Users(), store.Strategies(), log)
		authn := auth.NewAuthenticator(secret, store.Users())

		mux := http.NewServeMux()
		handlers.Register(mux, handlers.NewChatHandler(svc, log), middleware.Auth(authn))
		router = middleware.CORS([]string{"https://app.example"})(middleware.Observe(log)(mux))

		tokens = make(map[int64]string)
		for _, id := range []int64{1, 2, 3, 9} {
			token, err := auth.NewToken(secret, id, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			tokens[id] = token
		}
	})

	do := func(method, path string, userID int64, body any) (*httptest.ResponseRecorder, envelope) {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if userID != 0 {
			req.Header.Set("Authorization", "Bearer "+tokens[userID])
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		var env envelope
		if w.Body.Len() > 0 {
			Expect(json.Unmarshal(w.Body.Bytes(), &env)).To(Succeed())
		}
		return w, env
	}

	startChat := func() int64 {
		w, env := do(http.MethodPost, "/chat/start", 1, map[string]int64{"strategy_id": 5, "creator_id": 2})
		Expect(w.Code).To(Equal(http.StatusCreated))
		var chat domain.ChatView
		Expect(json.Unmarshal(env.Data, &chat)).To(Succeed())
		return chat.ID
	}

	Describe("authentication", func() {
		It("rejects requests without a token", func() {
			w, env := do(http.MethodGet, "/chat/list", 0, nil)
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(env.Status).To(Equal("error"))
			Expect(env.Error.Code).To(Equal("UNAUTHORIZED"))
		})

		It("rejects tokens for users outside the directory", func() {
			w, _ := do(http.MethodGet, "/chat/list", 9, nil)
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the token as a query parameter", func() {
			req := httptest.NewRequest(http.MethodGet, "/chat/profile?token="+tokens[1], nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /chat/start", func() {
		It("returns 201 on creation and 200 when reopening", func() {
			id := startChat()

			w, env := do(http.MethodPost, "/chat/start", 1, map[string]int64{"strategy_id": 5, "creator_id": 2})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(env.Status).To(Equal("success"))

			var chat domain.ChatView
			Expect(json.Unmarshal(env.Data, &chat)).To(Succeed())
			Expect(chat.ID).To(Equal(id))
			Expect(chat.StrategyName).To(Equal("Momentum"))
			Expect(chat.CounterpartyName).To(Equal("Bob"))
		})

		It("accepts counterparty_id", func() {
			w, _ := do(http.MethodPost, "/chat/start", 1, map[string]int64{"strategy_id": 5, "counterparty_id": 2})
			Expect(w.Code).To(Equal(http.StatusCreated))
		})

		It("reports missing fields", func() {
			w, env := do(http.MethodPost, "/chat/start", 1, map[string]int64{"strategy_id": 5})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(env.Error.Code).To(Equal("VALIDATION_ERROR"))
			Expect(env.Error.Fields).To(HaveKey("creator_id"))
		})

		It("rejects malformed JSON", func() {
			req := httptest.NewRequest(http.MethodPost, "/chat/start", bytes.NewBufferString(`{`))
			req.Header.Set("Authorization", "Bearer "+tokens[1])
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		DescribeTable("maps service errors",
			func(body map[string]int64, status int) {
				w, _ := do(http.MethodPost, "/chat/start", 1, body)
				Expect(w.Code).To(Equal(status))
			},
			Entry("self chat", map[string]int64{"strategy_id": 5, "creator_id": 1}, http.StatusBadRequest),
			Entry("unknown strategy", map[string]int64{"strategy_id": 99, "creator_id": 2}, http.StatusNotFound),
			Entry("unknown counterparty", map[string]int64{"strategy_id": 5, "creator_id": 42}, http.StatusNotFound),
		)
	})

	Describe("messages", func() {
		var chatID int64

		BeforeEach(func() {
			chatID = startChat()
		})

		It("sends and lists in order", func() {
			for _, body := range []string{"first", "second"} {
				w, _ := do(http.MethodPost, fmt.Sprintf("/chat/%d/message", chatID), 1, map[string]string{"content": body})
				Expect(w.Code).To(Equal(http.StatusCreated))
			}

			w, env := do(http.MethodGet, fmt.Sprintf("/chat/%d/messages", chatID), 2, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			var messages []domain.MessageView
			Expect(json.Unmarshal(env.Data, &messages)).To(Succeed())
			Expect(messages).To(HaveLen(2))
			Expect(messages[0].Content).To(Equal("first"))
			Expect(messages[1].SenderName).To(Equal("Alice"))
		})

		It("forbids outsiders", func() {
			w, env := do(http.MethodPost, fmt.Sprintf("/chat/%d/message", chatID), 3, map[string]string{"content": "hi"})
			Expect(w.Code).To(Equal(http.StatusForbidden))
			Expect(env.Error.Code).To(Equal("FORBIDDEN"))

			w, _ = do(http.MethodGet, fmt.Sprintf("/chat/%d/messages", chatID), 3, nil)
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("rejects an empty body", func() {
			w, env := do(http.MethodPost, fmt.Sprintf("/chat/%d/message", chatID), 1, map[string]string{"content": "  "})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(env.Error.Fields).To(HaveKey("content"))
		})

		It("refuses an outsider even with an empty body", func() {
			w, env := do(http.MethodPost, fmt.Sprintf("/chat/%d/message", chatID), 3, map[string]string{"content": ""})
			Expect(w.Code).To(Equal(http.StatusForbidden))
			Expect(env.Error.Code).To(Equal("FORBIDDEN"))
		})

		It("returns 404 for an unknown chat and 400 for a bad id", func() {
			w, _ := do(http.MethodGet, "/chat/12345/messages", 1, nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))

			w, _ = do(http.MethodGet, "/chat/abc/messages", 1, nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("marks read once", func() {
			do(http.MethodPost, fmt.Sprintf("/chat/%d/message", chatID), 1, map[string]string{"content": "hello"})

			for _, want := range []int{1, 0} {
				w, env := do(http.MethodPut, fmt.Sprintf("/chat/%d/read", chatID), 2, nil)
				Expect(w.Code).To(Equal(http.StatusOK))
				var result domain.ReadResult
				Expect(json.Unmarshal(env.Data, &result)).To(Succeed())
				Expect(result).To(Equal(domain.ReadResult{ChatID: chatID, ReadCount: want}))
			}
		})
	})

	Describe("GET /chat/list and /chat/all-unread-counts", func() {
		It("reports unread counts for the recipient", func() {
			chatID := startChat()
			do(http.MethodPost, fmt.Sprintf("/chat/%d/message", chatID), 1, map[string]string{"content": "hello"})

			w, env := do(http.MethodGet, "/chat/list", 2, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			var summaries []domain.ChatSummary
			Expect(json.Unmarshal(env.Data, &summaries)).To(Succeed())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].UnreadCount).To(Equal(1))
			Expect(summaries[0].LastMessage).To(Equal("hello"))

			w, env = do(http.MethodGet, "/chat/all-unread-counts", 2, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			var counts []domain.UnreadCount
			Expect(json.Unmarshal(env.Data, &counts)).To(Succeed())
			Expect(counts).To(Equal([]domain.UnreadCount{{ChatID: chatID, UnreadCount: 1}}))
		})
	})

	Describe("public routes", func() {
		It("serves health without auth", func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring("ok"))
		})

		It("answers CORS preflight for allowed origins", func() {
			req := httptest.NewRequest(http.MethodOptions, "/chat/start", nil)
			req.Header.Set("Origin", "https://app.example")
			req.Header.Set("Access-Control-Request-Method", "POST")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusNoContent))
			Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://app.example"))
		})

		It("does not echo unknown origins", func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", "https://evil.example")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
		})
	})
})
