package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go/option"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Claude", func() {
	var (
		server *ghttp.Server
		claude *Claude
		output string
		err    error
		body   map[string]any
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		claude, newErr = NewClaude("test-key", "", option.WithBaseURL(server.URL()), option.WithMaxRetries(0))
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		output, err = claude.Invoke(context.Background(), tinyPNG(), "image/png", InvokeConfig{MaxOutputTokens: 4096})
	})

	When("the model answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1/messages"),
				ghttp.VerifyHeaderKV("X-Api-Key", "test-key"),
				func(w http.ResponseWriter, r *http.Request) {
					Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"id":    "msg_01",
					"type":  "message",
					"role":  "assistant",
					"model": defaultClaudeModel,
					"content": []map[string]any{
						{"type": "text", "text": `{"issuerName":`},
						{"type": "text", "text": `"Acme"}`},
					},
					"stop_reason": "end_turn",
					"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
				}),
			))
		})

		It("should join the text blocks", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(Equal(`{"issuerName":"Acme"}`))
		})

		It("should pass the budget as max_tokens", func() {
			Expect(body).To(HaveKeyWithValue("max_tokens", BeNumerically("==", 4096)))
			Expect(body).To(HaveKeyWithValue("model", defaultClaudeModel))
		})

		It("should send the image before the prompt", func() {
			messages := body["messages"].([]any)
			Expect(messages).To(HaveLen(1))
			content := messages[0].(map[string]any)["content"].([]any)
			Expect(content).To(HaveLen(2))
			Expect(content[0]).To(HaveKeyWithValue("type", "image"))
			Expect(content[1]).To(HaveKeyWithValue("type", "text"))
		})
	})

	When("the API throttles", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusTooManyRequests, map[string]any{
				"type":  "error",
				"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
			}))
		})

		It("should return a remote error with the status", func() {
			Expect(err).To(MatchError(ErrRemote))
			var rErr *RemoteError
			Expect(errors.As(err, &rErr)).To(BeTrue())
			Expect(rErr.Status).To(Equal(http.StatusTooManyRequests))
		})
	})
})

var _ = Describe("NewClaude", func() {
	It("should report a missing key as unavailable", func() {
		_, err := NewClaude("", "")
		Expect(err).To(MatchError(ErrUnavailable))
	})
})

var _ = Describe("NewGemini", func() {
	It("should report a missing key as unavailable", func() {
		_, err := NewGemini("", "")
		Expect(err).To(MatchError(ErrUnavailable))
	})
})
