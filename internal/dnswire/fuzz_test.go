package dnswire

import (
	"testing"
)

// FuzzDecodeQuery checks the decoder is total: any input up to the maximum
// datagram size yields a Query or an error, never a panic, in bounded time.
func FuzzDecodeQuery(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x12, 0x34, 0x00})
	f.Add(Header{ID: 1, QDCount: 1}.Marshal())
	f.Add([]byte{
		0x12, 0x34, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		3, 'a', 'd', 's', 7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0,
		0x00, 0x01, 0x00, 0x01,
	})
	// Self-referencing pointer in the qname.
	f.Add([]byte{
		0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xC0, 0x0C,
	})

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > MaxUDPPayloadSize {
			data = data[:MaxUDPPayloadSize]
		}
		q, err := DecodeQuery(data)
		if err == nil && q == nil {
			t.Fatal("nil query without error")
		}
		if q != nil && err == nil {
			// Reported offsets must stay inside the message.
			if q.QuestionEnd < HeaderSize || q.QuestionEnd > len(data) {
				t.Fatalf("question end %d outside message of %d bytes", q.QuestionEnd, len(data))
			}
			_ = q.Name()
		}
	})
}
