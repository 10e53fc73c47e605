package services

import "github.com/saeid-a/TherapyCallBack/internal/models"

// EventPublisher receives notifications once the unit that produced them has committed.
type EventPublisher interface {
	Publish(event models.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(models.Event) {}

func publisherOrNoop(publisher EventPublisher) EventPublisher {
	if publisher == nil {
		return noopPublisher{}
	}
	return publisher
}
