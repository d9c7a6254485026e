package mqtt

import (
	"log"
	"time"

	"github.com/sweeney/lag-sensor/internal/lag"
)

// TopicSource reads state changes of one entity from a broker topic.
type TopicSource struct {
	Sub   Subscriber
	Topic string
}

// Subscribe starts delivering decoded records to onChange. Payloads that do
// not decode are logged and skipped.
func (s TopicSource) Subscribe(onChange func(lag.Record)) (func(), error) {
	return s.Sub.Subscribe(s.Topic, func(payload []byte, received time.Time) {
		rec, err := DecodeState(payload, received)
		if err != nil {
			log.Printf("mqtt: %s: ignoring payload: %v", s.Topic, err)
			return
		}
		onChange(rec)
	})
}
