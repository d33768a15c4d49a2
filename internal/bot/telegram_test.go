package bot

import (
	"context"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("requestFromUpdate", func() {
	var (
		update tgbotapi.Update
		req    Request
		ok     bool
	)

	JustBeforeEach(func() {
		req, ok = requestFromUpdate(update)
	})

	When("the update is a command", func() {
		BeforeEach(func() {
			update = tgbotapi.Update{Message: &tgbotapi.Message{
				From:     &tgbotapi.User{ID: 42},
				Chat:     &tgbotapi.Chat{ID: 100},
				Text:     "/scan@scanbot",
				Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 13}},
			}}
		})

		It("maps it to the command", func() {
			Expect(ok).To(BeTrue())
			Expect(req).To(Equal(Request{UserID: 42, ChatID: 100, Command: CommandScan, Text: "/scan@scanbot"}))
		})
	})

	When("the update is plain text", func() {
		BeforeEach(func() {
			update = tgbotapi.Update{Message: &tgbotapi.Message{
				From: &tgbotapi.User{ID: 42},
				Chat: &tgbotapi.Chat{ID: 100},
				Text: "please scan",
			}}
		})

		It("is an unknown, silent request", func() {
			Expect(ok).To(BeTrue())
			Expect(req.Command).To(Equal(CommandUnknown))
			Expect(req.Silent).To(BeTrue())
		})
	})

	When("the update is a button press", func() {
		BeforeEach(func() {
			update = tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
				ID:      "cb-9",
				From:    &tgbotapi.User{ID: 42},
				Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
				Data:    "status",
			}}
		})

		It("carries the callback id", func() {
			Expect(ok).To(BeTrue())
			Expect(req).To(Equal(Request{UserID: 42, ChatID: 100, Command: CommandStatus, CallbackID: "cb-9"}))
		})
	})

	When("the update has no text", func() {
		BeforeEach(func() {
			update = tgbotapi.Update{Message: &tgbotapi.Message{
				From: &tgbotapi.User{ID: 42},
				Chat: &tgbotapi.Chat{ID: 100},
			}}
		})

		It("is ignored", func() {
			Expect(ok).To(BeFalse())
		})
	})

	When("the update is something else", func() {
		BeforeEach(func() {
			update = tgbotapi.Update{UpdateID: 5}
		})

		It("is ignored", func() {
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("Telegram", func() {
	var (
		server *ghttp.Server
		tg     *Telegram
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest("POST", "/botTOKEN/getMe"),
			ghttp.RespondWith(http.StatusOK, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Scanner","username":"scanbot"}}`),
		))

		var err error
		tg, err = NewTelegramWithEndpoint("TOKEN", server.URL()+"/bot%s/%s", &http.Client{})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends HTML messages with the menu", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest("POST", "/botTOKEN/sendMessage"),
			ghttp.VerifyFormKV("chat_id", "100"),
			ghttp.VerifyFormKV("parse_mode", "HTML"),
			func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Form.Get("reply_markup")).To(ContainSubstring(`"callback_data":"scan"`))
			},
			ghttp.RespondWith(http.StatusOK, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":100,"type":"private"}}}`),
		))

		ref, err := tg.Send(context.Background(), 100, Message{Text: "<b>hi</b>", Menu: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(Equal(MessageRef{ChatID: 100, MessageID: 7}))
	})

	It("edits and deletes by reference", func() {
		server.AppendHandlers(
			ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/botTOKEN/editMessageText"),
				ghttp.VerifyFormKV("message_id", "7"),
				ghttp.RespondWith(http.StatusOK, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":100,"type":"private"}}}`),
			),
			ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/botTOKEN/deleteMessage"),
				ghttp.VerifyFormKV("message_id", "7"),
				ghttp.RespondWith(http.StatusOK, `{"ok":true,"result":true}`),
			),
		)

		ref := MessageRef{ChatID: 100, MessageID: 7}
		Expect(tg.Edit(context.Background(), ref, Message{Text: "sending"})).To(Succeed())
		Expect(tg.Delete(context.Background(), ref)).To(Succeed())
	})

	It("reports API failures", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))

		_, err := tg.Send(context.Background(), 100, Message{Text: "hi"})
		Expect(err).To(MatchError(ContainSubstring("bot was blocked")))
	})
})
