package messaging

import (
	"context"
	"log"
	"time"
)

// PriorityProcessor consumes events from multiple priority streams and
// forwards them in priority order (critical > high > normal > low).
type PriorityProcessor struct {
	client       *RedisClient
	consumerName string
	groupName    string
}

// NewPriorityProcessor creates a priority processor under the chat_window
// consumer group.
func NewPriorityProcessor(client *RedisClient, consumerName string) *PriorityProcessor {
	return NewPriorityProcessorWithGroup(client, consumerName, ConsumerGroupChatWindow)
}

// NewPriorityProcessorWithGroup creates a priority processor with a custom
// consumer group.
func NewPriorityProcessorWithGroup(client *RedisClient, consumerName, groupName string) *PriorityProcessor {
	return &PriorityProcessor{
		client:       client,
		consumerName: consumerName,
		groupName:    groupName,
	}
}

// Start begins processing events and returns a channel of events.
func (p *PriorityProcessor) Start(ctx context.Context) <-chan *EventMessage {
	output := make(chan *EventMessage, 100)

	priorities := []string{
		PriorityCritical,
		PriorityHigh,
		PriorityNormal,
		PriorityLow,
	}

	channels := make(map[string]<-chan Message)
	for _, priority := range priorities {
		stream := StreamName(priority)
		consumer := p.consumerName

		msgChan, err := p.client.Subscribe(ctx, stream, p.groupName, consumer)
		if err != nil {
			log.Printf("Failed to subscribe to %s: %v", stream, err)
			continue
		}
		channels[priority] = msgChan
		log.Printf("Subscribed to stream %s as consumer %s", stream, consumer)
	}

	go p.processLoop(ctx, channels, output, priorities)

	return output
}

// processLoop continuously checks priority streams and forwards events.
func (p *PriorityProcessor) processLoop(ctx context.Context, channels map[string]<-chan Message, output chan<- *EventMessage, priorities []string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Priority processor shutting down for consumer %s", p.consumerName)
			return
		default:
			processed := false

			for _, priority := range priorities {
				ch := channels[priority]
				if ch == nil {
					continue
				}

				select {
				case msg, ok := <-ch:
					if !ok {
						channels[priority] = nil
						continue
					}

					evt, err := EventMessageFromRedisValues(msg.Values)
					if err != nil {
						log.Printf("Failed to parse event message: %v", err)
						continue
					}

					if evt.To == "" || evt.To == p.consumerName {
						output <- evt
						processed = true
						log.Printf("Received %s priority event %s from %s", priority, evt.ID, evt.From)
					}

				default:
					continue
				}

				if processed {
					break
				}
			}

			if !processed {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

// PriorityStats holds statistics about event processing for one consumer.
type PriorityStats struct {
	Consumer      string
	CriticalCount int64
	HighCount     int64
	NormalCount   int64
	LowCount      int64
	LastProcessed time.Time
}
