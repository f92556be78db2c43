package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/load_validator/config"
	"github.com/mmdatafocus/load_validator/models"
	"github.com/mmdatafocus/load_validator/utils"
	"github.com/sirupsen/logrus"
)

// PubSubPushEnvelope is the body Pub/Sub push subscriptions POST.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data,omitempty"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// loadPubSubHandler decides one load per pushed message.
// Malformed messages are acked (204) to avoid infinite retries; a backend failure
// returns 500 so Pub/Sub redelivers, which is safe because decisions are idempotent.
func (api *loadAPI) loadPubSubHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		config.LogError(api.logger, "pubsubHandlers", "loadPubSubHandler", "io.ReadAll", nil, err)
		c.Status(http.StatusNoContent)
		return
	}

	// byte slice unmarshalling handles base64 decoding.
	var envelope PubSubPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		config.LogError(api.logger, "pubsubHandlers", "loadPubSubHandler", "Unmarshal envelope", string(body), err)
		c.Status(http.StatusNoContent)
		return
	}

	var input models.NewLoadRequest
	if err := utils.UnmarshalFromJSON(envelope.Message.Data, &input); err != nil {
		config.LogError(api.logger, "pubsubHandlers", "loadPubSubHandler", "Unmarshal load", string(envelope.Message.Data), err)
		c.Status(http.StatusNoContent)
		return
	}
	req, err := input.Parse()
	if err != nil {
		config.LogError(api.logger, "pubsubHandlers", "loadPubSubHandler", "invalid load", input, err)
		c.Status(http.StatusNoContent)
		return
	}

	// Correlation ID propagation: prefer the message attribute; fall back to the Pub/Sub message ID.
	ctx := c.Request.Context()
	correlationId := envelope.Message.Attributes["correlation_id"]
	if correlationId == "" {
		correlationId = envelope.Message.ID
	}
	if correlationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
	}

	resp, err := api.evaluator.Evaluate(ctx, req)
	if err != nil {
		api.logger.WithFields(logrus.Fields{
			"field":          "loadPubSubHandler",
			"customer_id":    req.CustomerId,
			"load_id":        req.Id,
			"message_id":     envelope.Message.ID,
			"correlation_id": correlationId,
		}).Error("pubsub load decision failed: " + err.Error())
		// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
		c.Status(http.StatusInternalServerError)
		return
	}

	api.logger.WithFields(logrus.Fields{
		"customer_id": resp.CustomerId,
		"load_id":     resp.Id,
		"accepted":    resp.Accepted,
		"message_id":  envelope.Message.ID,
	}).Debug("pubsub load decided")
	c.Status(http.StatusNoContent)
}
