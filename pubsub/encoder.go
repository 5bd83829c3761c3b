package pubsub

import "encoding/json"

// JSONEncoder is the default Encoder (spec §3: "encoded to a string,
// default JSON").
type JSONEncoder struct{}

type wireEnvelope struct {
	Topic   string         `json:"topic"`
	Payload any            `json:"payload"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func (JSONEncoder) Encode(env PublishEnvelope) ([]byte, error) {
	return json.Marshal(wireEnvelope{Topic: env.Topic, Payload: env.Payload, Meta: env.Meta})
}

func (JSONEncoder) Decode(data []byte) (PublishEnvelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return PublishEnvelope{}, err
	}
	return PublishEnvelope{Topic: w.Topic, Payload: w.Payload, Meta: w.Meta}, nil
}
