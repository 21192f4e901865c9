package protocol_test

import (
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/paylink/protocol"
)

var _ = Describe("Decode()", func() {
	It("returns an error if the data is not JSON", func() {
		_, err := protocol.Decode([]byte("not even close"))
		Expect(err).To(HaveOccurred())
	})

	It("returns an error if the message has no type", func() {
		_, err := protocol.Decode([]byte(`{"method":"TX_START","payload":"{}"}`))
		Expect(errors.Is(err, protocol.ErrMissingType)).To(BeTrue())
	})

	It("parses a valid event", func() {
		raw := []byte(`{"method":"FINISH_OK","type":"EVENT","packageName":"com.paylink.protocol.lan","payload":"{\"payment\":\"{}\"}"}`)
		msg, err := protocol.Decode(raw)
		Expect(err).To(Succeed())
		Expect(msg.Method).To(Equal(protocol.FinishOk))
		Expect(msg.Type).To(Equal(protocol.Event))
		Expect(msg.PackageName).To(Equal(protocol.PackageLAN))
	})

	It("parses a PONG without a method", func() {
		msg, err := protocol.Decode([]byte(`{"type":"PONG","packageName":"com.paylink.protocol.lan"}`))
		Expect(err).To(Succeed())
		Expect(msg.Type).To(Equal(protocol.Pong))
		Expect(msg.Method).To(BeEmpty())
	})

	It("does not reject an unknown method", func() {
		msg, err := protocol.Decode([]byte(`{"method":"FUTURE_THING","type":"EVENT","packageName":"x"}`))
		Expect(err).To(Succeed())
		Expect(msg.Method).To(Equal(protocol.Method("FUTURE_THING")))
	})

	It("round-trips an encoded message", func() {
		builder := protocol.NewBuilder("")
		original, err := builder.Build(protocol.TxStart, protocol.Command,
			map[string]interface{}{"payIntent": map[string]interface{}{"amount": 1000}}, "")
		Expect(err).To(Succeed())

		raw, err := original.Encode()
		Expect(err).To(Succeed())

		decoded, err := protocol.Decode(raw)
		Expect(err).To(Succeed())
		Expect(decoded.Method).To(Equal(original.Method))
		Expect(decoded.Type).To(Equal(original.Type))
		Expect(decoded.PackageName).To(Equal(original.PackageName))

		var payload map[string]interface{}
		Expect(decoded.UnmarshalPayload(&payload)).To(Succeed())
		Expect(payload["method"]).To(Equal("TX_START"))
		Expect(payload["payIntent"]).To(Equal(map[string]interface{}{"amount": float64(1000)}))
	})

	Describe("PayloadField()", func() {
		It("extracts fields from the inner payload", func() {
			msg := &protocol.Message{
				Type:    protocol.Event,
				Method:  protocol.FinishOk,
				Payload: `{"payment":"{\"result\":\"SUCCESS\"}"}`,
			}
			inner := msg.PayloadField("payment").String()

			var payment map[string]interface{}
			Expect(json.Unmarshal([]byte(inner), &payment)).To(Succeed())
			Expect(payment["result"]).To(Equal("SUCCESS"))
		})
	})
})
