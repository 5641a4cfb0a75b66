package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vedran77/stratchat/internal/domain"
	"github.com/vedran77/stratchat/internal/logger"
	"github.com/vedran77/stratchat/internal/repository/memory"
	"github.com/vedran77/stratchat/internal/service"
	"github.com/vedran77/stratchat/pkg/validator"
)

var (
	alice = domain.AuthenticatedUser{ID: 1, Name: "Alice"}
	bob   = domain.AuthenticatedUser{ID: 2, Name: "Bob"}
	carol = domain.AuthenticatedUser{ID: 3, Name: "Carol"}
)

const (
	momentum = int64(5)
	breakout = int64(6)
)

var _ = Describe("ChatService", func() {
	var (
		ctx      context.Context
		now      time.Time
		store    *memory.Store
		notifier *recordingNotifier
		svc      *service.ChatService
	)

	tick := func() { now = now.Add(time.Minute) }

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		store = memory.New(memory.WithClock(func() time.Time { return now }))
		for _, u := range []domain.AuthenticatedUser{alice, bob, carol} {
			store.AddUser(domain.User{ID: u.ID, Name: u.Name})
		}
		store.AddStrategy(domain.Strategy{ID: momentum, Name: "Momentum", OwnerID: bob.ID})
		store.AddStrategy(domain.Strategy{ID: breakout, Name: "Breakout", OwnerID: carol.ID})

		notifier = &recordingNotifier{}
		svc = service.NewChatService(store.Chats(), store.Messages(), store.Users(), store.Strategies(), logger.Discard())
		svc.SetNotifier(notifier)
	})

	startChat := func(actor domain.AuthenticatedUser, strategyID int64, counterparty domain.AuthenticatedUser) *domain.ChatView {
		view, _, err := svc.StartOrOpen(ctx, actor, strategyID, counterparty.ID)
		Expect(err).NotTo(HaveOccurred())
		return view
	}

	Describe("StartOrOpen", func() {
		It("creates the chat and tells the counterparty", func() {
			view, created, err := svc.StartOrOpen(ctx, alice, momentum, bob.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(view.InitiatorID).To(Equal(alice.ID))
			Expect(view.CounterpartyID).To(Equal(bob.ID))
			Expect(view.StrategyName).To(Equal("Momentum"))
			Expect(view.InitiatorName).To(Equal("Alice"))
			Expect(view.CounterpartyName).To(Equal("Bob"))

			opened := notifier.events("thread_opened")
			Expect(opened).To(HaveLen(1))
			Expect(opened[0].userIDs).To(Equal([]int64{bob.ID}))
		})

		It("reopens an existing chat without notifying", func() {
			first := startChat(alice, momentum, bob)
			notifier.reset()
			tick()

			view, created, err := svc.StartOrOpen(ctx, alice, momentum, bob.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(view.ID).To(Equal(first.ID))
			Expect(view.LastActivityAt).To(Equal(now))
			Expect(notifier.events("thread_opened")).To(BeEmpty())
		})

		It("treats the reverse direction as a different chat", func() {
			ab := startChat(alice, momentum, bob)
			ba := startChat(bob, momentum, alice)
			Expect(ba.ID).NotTo(Equal(ab.ID))
			Expect(ba.InitiatorID).To(Equal(bob.ID))
		})

		It("opens one chat for concurrent first contacts", func() {
			store = memory.New()
			store.AddUser(domain.User{ID: alice.ID, Name: alice.Name})
			store.AddUser(domain.User{ID: bob.ID, Name: bob.Name})
			store.AddStrategy(domain.Strategy{ID: momentum, Name: "Momentum", OwnerID: bob.ID})
			svc = service.NewChatService(store.Chats(), store.Messages(), store.Users(), store.Strategies(), logger.Discard())
			svc.SetNotifier(notifier)

			const callers = 16
			ids := make([]int64, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					view, _, err := svc.StartOrOpen(ctx, alice, momentum, bob.ID)
					Expect(err).NotTo(HaveOccurred())
					ids[i] = view.ID
				}(i)
			}
			wg.Wait()

			for _, id := range ids {
				Expect(id).To(Equal(ids[0]))
			}
			chats, err := store.Chats().ListByParticipant(ctx, alice.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(chats).To(HaveLen(1))
			Expect(chats[0].StrategyID).To(Equal(momentum))
			Expect(notifier.events("thread_opened")).To(HaveLen(1))
		})

		DescribeTable("rejects bad input",
			func(strategyID, counterpartyID int64, want error) {
				_, _, err := svc.StartOrOpen(ctx, alice, strategyID, counterpartyID)
				Expect(err).To(MatchError(want))
				Expect(notifier.sent).To(BeEmpty())
			},
			Entry("missing strategy", int64(0), bob.ID, service.ErrMissingIDs),
			Entry("missing counterparty", momentum, int64(0), service.ErrMissingIDs),
			Entry("self chat", momentum, alice.ID, service.ErrCannotChatSelf),
			Entry("unknown strategy", int64(99), bob.ID, service.ErrStrategyNotFound),
			Entry("unknown counterparty", momentum, int64(99), service.ErrUserNotFound),
		)

		It("reports failures in the error taxonomy", func() {
			_, _, err := svc.StartOrOpen(ctx, alice, momentum, alice.ID)
			Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())

			_, _, err = svc.StartOrOpen(ctx, alice, 99, bob.ID)
			Expect(errors.Is(err, domain.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Send", func() {
		var chat *domain.ChatView

		BeforeEach(func() {
			chat = startChat(alice, momentum, bob)
			notifier.reset()
		})

		It("stores the message for the other participant and fans out to both", func() {
			msg, err := svc.Send(ctx, alice, chat.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.SenderID).To(Equal(alice.ID))
			Expect(msg.ReceiverID).To(Equal(bob.ID))
			Expect(msg.IsRead).To(BeFalse())
			Expect(msg.SenderName).To(Equal("Alice"))
			Expect(msg.ReceiverName).To(Equal("Bob"))

			sent := notifier.events("new_message")
			Expect(sent).To(HaveLen(1))
			Expect(sent[0].userIDs).To(ConsistOf(alice.ID, bob.ID))
		})

		It("forbids outsiders without storing or publishing", func() {
			_, err := svc.Send(ctx, carol, chat.ID, "let me in")
			Expect(err).To(MatchError(service.ErrNotParticipant))
			Expect(errors.Is(err, domain.ErrForbidden)).To(BeTrue())

			history, err := store.Messages().ListByChat(ctx, chat.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(BeEmpty())
			Expect(notifier.sent).To(BeEmpty())
		})

		It("returns not found for an unknown chat", func() {
			_, err := svc.Send(ctx, alice, 424242, "hello")
			Expect(err).To(MatchError(service.ErrChatNotFound))
		})

		It("rejects a blank body", func() {
			_, err := svc.Send(ctx, alice, chat.ID, "   ")
			Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())
			Expect(notifier.sent).To(BeEmpty())
		})

		It("refuses an outsider before looking at the content", func() {
			_, err := svc.Send(ctx, carol, chat.ID, "")
			Expect(errors.Is(err, domain.ErrForbidden)).To(BeTrue())
			Expect(errors.Is(err, domain.ErrValidation)).To(BeFalse())
		})

		It("rejects an oversized body", func() {
			_, err := svc.Send(ctx, alice, chat.ID, strings.Repeat("a", validator.MaxMessageLength+1))
			Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())
		})

		It("keeps the message when publishing fails", func() {
			notifier.err = errors.New("bus down")

			msg, err := svc.Send(ctx, alice, chat.ID, "still here")
			Expect(err).NotTo(HaveOccurred())

			history, err := svc.GetMessages(ctx, bob, chat.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))
			Expect(history[0].ID).To(Equal(msg.ID))
		})
	})

	Describe("GetMessages", func() {
		It("returns history oldest first, identically on repeat", func() {
			chat := startChat(alice, momentum, bob)
			for _, body := range []string{"one", "two", "three"} {
				tick()
				_, err := svc.Send(ctx, alice, chat.ID, body)
				Expect(err).NotTo(HaveOccurred())
			}

			first, err := svc.GetMessages(ctx, bob, chat.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(HaveLen(3))
			Expect(first[0].Content).To(Equal("one"))
			Expect(first[2].Content).To(Equal("three"))

			second, err := svc.GetMessages(ctx, alice, chat.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})

		It("forbids outsiders", func() {
			chat := startChat(alice, momentum, bob)
			_, err := svc.GetMessages(ctx, carol, chat.ID)
			Expect(err).To(MatchError(service.ErrNotParticipant))
		})
	})

	Describe("MarkRead", func() {
		var chat *domain.ChatView

		BeforeEach(func() {
			chat = startChat(alice, momentum, bob)
		})

		It("marks once, then reports nothing left", func() {
			_, err := svc.Send(ctx, alice, chat.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			notifier.reset()

			result, err := svc.MarkRead(ctx, bob, chat.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*result).To(Equal(domain.ReadResult{ChatID: chat.ID, ReadCount: 1}))

			again, err := svc.MarkRead(ctx, bob, chat.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*again).To(Equal(domain.ReadResult{ChatID: chat.ID, ReadCount: 0}))

			receipts := notifier.events("messages_read")
			Expect(receipts).To(HaveLen(1))
		})

		It("sends the receipt to the other participant only", func() {
			m1, err := svc.Send(ctx, alice, chat.ID, "one")
			Expect(err).NotTo(HaveOccurred())
			m2, err := svc.Send(ctx, alice, chat.ID, "two")
			Expect(err).NotTo(HaveOccurred())
			notifier.reset()

			_, err = svc.MarkRead(ctx, bob, chat.ID)
			Expect(err).NotTo(HaveOccurred())

			receipts := notifier.events("messages_read")
			Expect(receipts).To(HaveLen(1))
			Expect(receipts[0].userIDs).To(Equal([]int64{alice.ID}))
			receipt := receipts[0].payload.(*domain.MessagesRead)
			Expect(receipt.ReaderID).To(Equal(bob.ID))
			Expect(receipt.MessageIDs).To(ConsistOf(m1.ID, m2.ID))
		})

		It("leaves the sender's own messages alone", func() {
			_, err := svc.Send(ctx, alice, chat.ID, "hello")
			Expect(err).NotTo(HaveOccurred())

			result, err := svc.MarkRead(ctx, alice, chat.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ReadCount).To(BeZero())
		})

		It("forbids outsiders", func() {
			_, err := svc.MarkRead(ctx, carol, chat.ID)
			Expect(err).To(MatchError(service.ErrNotParticipant))
		})
	})

	Describe("ListChatsFor", func() {
		It("puts chats with unread messages first", func() {
			// T2 is older but has three unread messages for alice.
			t2 := startChat(bob, momentum, alice)
			for i := 0; i < 3; i++ {
				_, err := svc.Send(ctx, bob, t2.ID, "ping")
				Expect(err).NotTo(HaveOccurred())
			}
			tick()
			t1 := startChat(alice, breakout, carol)

			summaries, err := svc.ListChatsFor(ctx, alice)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(2))
			Expect(summaries[0].ID).To(Equal(t2.ID))
			Expect(summaries[0].UnreadCount).To(Equal(3))
			Expect(summaries[0].LastMessage).To(Equal("ping"))
			Expect(*summaries[0].LastMessageSender).To(Equal(bob.ID))
			Expect(summaries[1].ID).To(Equal(t1.ID))
			Expect(summaries[1].UnreadCount).To(BeZero())
			Expect(summaries[1].LastMessageSender).To(BeNil())
		})

		It("orders each group by last activity", func() {
			older := startChat(alice, momentum, bob)
			tick()
			newer := startChat(alice, breakout, carol)

			summaries, err := svc.ListChatsFor(ctx, alice)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries[0].ID).To(Equal(newer.ID))
			Expect(summaries[1].ID).To(Equal(older.ID))

			tick()
			_, err = svc.Send(ctx, alice, older.ID, "bump")
			Expect(err).NotTo(HaveOccurred())

			summaries, err = svc.ListChatsFor(ctx, alice)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries[0].ID).To(Equal(older.ID))
		})

		It("returns an empty list for a user without chats", func() {
			summaries, err := svc.ListChatsFor(ctx, carol)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(BeEmpty())
			Expect(summaries).NotTo(BeNil())
		})
	})

	Describe("UnreadSummary", func() {
		It("returns and pushes a count per chat", func() {
			withUnread := startChat(bob, momentum, alice)
			_, err := svc.Send(ctx, bob, withUnread.ID, "hi")
			Expect(err).NotTo(HaveOccurred())
			quiet := startChat(alice, breakout, carol)
			notifier.reset()

			summary, err := svc.UnreadSummary(ctx, alice)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary).To(ConsistOf(
				domain.UnreadCount{ChatID: withUnread.ID, UnreadCount: 1},
				domain.UnreadCount{ChatID: quiet.ID, UnreadCount: 0},
			))

			pushed := notifier.events("unread_count_update")
			Expect(pushed).To(HaveLen(2))
			for _, p := range pushed {
				Expect(p.userIDs).To(Equal([]int64{alice.ID}))
			}
		})
	})

	Describe("AuthorizeJoin", func() {
		var chat *domain.ChatView

		BeforeEach(func() {
			chat = startChat(alice, momentum, bob)
		})

		DescribeTable("role checks",
			func(actor domain.AuthenticatedUser, role string, want error) {
				got, err := svc.AuthorizeJoin(ctx, actor, chat.ID, role)
				if want == nil {
					Expect(err).NotTo(HaveOccurred())
					Expect(got.ID).To(Equal(chat.ID))
					return
				}
				Expect(err).To(MatchError(want))
			},
			Entry("initiator without role", alice, "", nil),
			Entry("counterparty without role", bob, "", nil),
			Entry("initiator by name", alice, domain.RoleInitiator, nil),
			Entry("legacy user alias", alice, "user", nil),
			Entry("legacy creator alias", bob, "creator", nil),
			Entry("wrong role", alice, domain.RoleCounterparty, service.ErrRoleMismatch),
			Entry("unknown role", alice, "admin", service.ErrUnknownRole),
			Entry("outsider", carol, "", service.ErrNotParticipant),
		)

		It("returns not found for an unknown chat", func() {
			_, err := svc.AuthorizeJoin(ctx, alice, 424242, "")
			Expect(err).To(MatchError(service.ErrChatNotFound))
		})
	})

	Describe("Profile", func() {
		It("returns the directory record", func() {
			u, err := svc.Profile(ctx, bob)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Name).To(Equal("Bob"))
		})

		It("returns not found for an unknown user", func() {
			_, err := svc.Profile(ctx, domain.AuthenticatedUser{ID: 77})
			Expect(err).To(MatchError(service.ErrUserNotFound))
		})
	})
})
