package correios_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/tournevent/tracksync/pkg/carrier/correios"
)

func TestClassify_NoEvents(t *testing.T) {
	assert.Equal(t, carrier.StatusNotFound, correios.Classify(nil))
	assert.Equal(t, carrier.StatusNotFound, correios.Classify([]carrier.TrackingEvent{}))
}

func TestClassify_Descriptions(t *testing.T) {
	tests := []struct {
		description string
		want        carrier.CanonicalStatus
	}{
		{"Objeto entregue ao destinatário", carrier.StatusDelivered},
		{"OBJETO ENTREGUE AO DESTINATÁRIO", carrier.StatusDelivered},
		{"Objeto em trânsito - por favor aguarde", carrier.StatusInTransit},
		{"Objeto em transito", carrier.StatusInTransit},
		{"OBJETO EM TRÂNSITO", carrier.StatusInTransit},
		{"Objeto postado", carrier.StatusPosted},
		{"Objeto saiu para entrega ao destinatário", carrier.StatusPosted},
		{"", carrier.StatusPosted},
		// delivered wins over in-transit
		{"Objeto em trânsito, entregue na unidade", carrier.StatusDelivered},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			got := correios.Classify([]carrier.TrackingEvent{{Description: tt.description}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_UsesFirstEventAsGiven(t *testing.T) {
	events := []carrier.TrackingEvent{
		{Description: "Objeto postado"},
		{Description: "Objeto entregue ao destinatário"},
	}
	assert.Equal(t, carrier.StatusPosted, correios.Classify(events))
}

func TestClassify_Idempotent(t *testing.T) {
	events := []carrier.TrackingEvent{{Description: "Objeto em trânsito"}}
	first := correios.Classify(events)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, correios.Classify(events))
	}
}

func TestClassifyDescription_Decomposed(t *testing.T) {
	// "trânsito" written with a combining circumflex (U+0302)
	assert.Equal(t, carrier.StatusInTransit, correios.ClassifyDescription("Objeto em tra\u0302nsito"))
}
