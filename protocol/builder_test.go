package protocol_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/paylink/protocol"
)

var _ = Describe("Builder", func() {
	var builder *protocol.Builder

	BeforeEach(func() {
		builder = protocol.NewBuilder("")
	})

	Describe("Build()", func() {
		It("defaults the type to COMMAND", func() {
			msg, err := builder.Build(protocol.ShowWelcomeScreen, "", nil, "")
			Expect(err).To(Succeed())
			Expect(msg.Type).To(Equal(protocol.Command))
		})

		It("defaults the package name to the LAN dialect", func() {
			msg, err := builder.Build(protocol.ShowWelcomeScreen, "", nil, "")
			Expect(err).To(Succeed())
			Expect(msg.PackageName).To(Equal(protocol.PackageLAN))
		})

		It("allows a per-message package name override", func() {
			msg, err := builder.Build(protocol.ShowWelcomeScreen, "", nil, protocol.PackageWebsocket)
			Expect(err).To(Succeed())
			Expect(msg.PackageName).To(Equal(protocol.PackageWebsocket))
		})

		It("synthesizes a minimal payload when none is given", func() {
			msg, err := builder.Build(protocol.ShowWelcomeScreen, "", nil, "")
			Expect(err).To(Succeed())
			Expect(msg.Payload).To(Equal(`{"method":"SHOW_WELCOME_SCREEN"}`))
		})

		It("mirrors the method into a provided payload", func() {
			msg, err := builder.Build(protocol.TerminalMessage, "", map[string]interface{}{"text": "hi"}, "")
			Expect(err).To(Succeed())
			Expect(gjson.Get(msg.Payload, "method").String()).To(Equal("TERMINAL_MESSAGE"))
			Expect(gjson.Get(msg.Payload, "text").String()).To(Equal("hi"))
		})
	})

	Describe("BuildPing()", func() {
		It("has a PING type and no method or payload", func() {
			msg, err := builder.BuildPing()
			Expect(err).To(Succeed())
			Expect(msg.Type).To(Equal(protocol.Ping))
			Expect(msg.Method).To(BeEmpty())
			Expect(msg.Payload).To(BeEmpty())
		})
	})

	Describe("BuildTxStart()", func() {
		It("wraps the payIntent and mirrors the method", func() {
			msg, err := builder.BuildTxStart(map[string]interface{}{"amount": 1500})
			Expect(err).To(Succeed())
			Expect(msg.Method).To(Equal(protocol.TxStart))
			Expect(gjson.Get(msg.Payload, "payIntent.amount").Int()).To(Equal(int64(1500)))
			Expect(gjson.Get(msg.Payload, "method").String()).To(Equal("TX_START"))
		})
	})

	Describe("BuildSignatureVerified()", func() {
		It("re-encodes the payment as a string and marks it verified", func() {
			payment := json.RawMessage(`{"result":"SUCCESS","amount":100}`)
			msg, err := builder.BuildSignatureVerified(payment)
			Expect(err).To(Succeed())
			Expect(gjson.Get(msg.Payload, "verified").Bool()).To(BeTrue())
			Expect(gjson.Get(msg.Payload, "payment").String()).To(Equal(string(payment)))
		})
	})

	Describe("BuildLastMessageRequest()", func() {
		It("asks the terminal to replay its last message", func() {
			msg, err := builder.BuildLastMessageRequest()
			Expect(err).To(Succeed())
			Expect(msg.Method).To(Equal(protocol.LastMessageRequest))
			Expect(msg.Payload).To(Equal(`{"method":"LAST_MSG_REQUEST"}`))
		})
	})

	Describe("BuildFinishCancel()", func() {
		It("carries only the method", func() {
			msg, err := builder.BuildFinishCancel()
			Expect(err).To(Succeed())
			Expect(msg.Method).To(Equal(protocol.FinishCancel))
			Expect(msg.Payload).To(Equal(`{"method":"FINISH_CANCEL"}`))
		})
	})

	Describe("WithID()", func() {
		It("attaches a correlation token", func() {
			msg, err := builder.BuildPrintText([]string{"a", "b"})
			Expect(err).To(Succeed())
			Expect(msg.WithID("01ARZ3").ID).To(Equal("01ARZ3"))
		})
	})
})

var _ = Describe("NewID()", func() {
	It("stays within the correlation id length limit", func() {
		for i := 0; i < 100; i++ {
			Expect(len(protocol.NewID())).To(BeNumerically("<=", protocol.IDLengthLimit))
		}
	})

	It("does not repeat", func() {
		seen := map[string]bool{}
		for i := 0; i < 1000; i++ {
			id := protocol.NewID()
			Expect(seen[id]).To(BeFalse())
			seen[id] = true
		}
	})
})
