package events

import (
	"encoding/json"
	logger "log"
	"sync"

	"github.com/nats-io/nats.go"
)

// StartArrivalListener subscribes to bus.arrival events and invokes
// handler for each one until shutdownSignal fires. Malformed payloads
// are logged and dropped.
func StartArrivalListener(log *logger.Logger,
	wg *sync.WaitGroup,
	natsConnection *nats.Conn,
	shutdownSignal chan bool,
	handler func(Arrival)) error {

	ch := make(chan *nats.Msg, 64)
	log.Printf("Subscribing to %s on nats: %v\n", SubjectArrival, natsConnection.Servers())
	sub, err := natsConnection.ChanSubscribe(SubjectArrival, ch)
	if err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-ch:
				arrival, err := unmarshalArrival(msg.Data)
				if err != nil {
					log.Printf("error parsing arrival event: %v, payload:%s", err, string(msg.Data))
					continue
				}
				handler(*arrival)
			case <-shutdownSignal:
				log.Printf("ending arrival listener on shutdown signal\n")
				unsubscribe(log, sub)
				return
			}
		}
	}()
	return nil
}

// unsubscribe convenience function for unsubscribing from a NATS
// subscription, logging the results.
func unsubscribe(log *logger.Logger, sub *nats.Subscription) {
	if !sub.IsValid() {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("error when attempting to unsubscribe from %s: %v\n", SubjectArrival, err)
	}
}

func unmarshalArrival(data []byte) (*Arrival, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	var arrival Arrival
	if err := json.Unmarshal(envelope.Detail, &arrival); err != nil {
		return nil, err
	}
	return &arrival, nil
}
