package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-smsintake/core"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec implements core.Codec for the compact base64 + msgpack format.
type Codec struct {
	validate *validator.Validate
}

func New() *Codec {
	return &Codec{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Decode accepts padded and unpadded standard base64. Surrounding whitespace
// added by gateways is ignored.
func (c *Codec) Decode(payload []byte) (core.Submission, error) {
	raw, err := decodeText(payload)
	if err != nil {
		return core.Submission{}, decodeError(err, "codec: decode base64 payload")
	}

	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return core.Submission{}, decodeError(err, "codec: decode envelope")
	}
	if err := c.validator().Struct(env); err != nil {
		return core.Submission{}, decodeError(err, "codec: invalid envelope")
	}

	submission := core.Submission{
		Kind:         core.NormalizeSubmissionKind(env.Kind),
		SubmissionID: env.SubmissionID,
		UserUID:      env.UserUID,
		EntityUID:    env.EntityUID,
	}
	payloadBody, err := c.decodeBody(submission.Kind, env.Body)
	if err != nil {
		return core.Submission{}, err
	}
	submission.Payload = payloadBody
	if err := submission.Validate(); err != nil {
		return core.Submission{}, decodeError(err, "codec: invalid submission")
	}
	return submission, nil
}

func (c *Codec) decodeBody(kind core.SubmissionKind, body msgpack.RawMessage) (core.SubmissionPayload, error) {
	switch kind {
	case core.SubmissionRelationship:
		var wire relationshipBody
		if err := c.unmarshalBody(body, &wire); err != nil {
			return nil, err
		}
		return core.RelationshipSubmission{
			RelationshipTypeUID: wire.RelationshipTypeUID,
			FromUID:             wire.FromUID,
			ToUID:               wire.ToUID,
		}, nil
	case core.SubmissionTrackerEvent:
		var wire trackerEventBody
		if err := c.unmarshalBody(body, &wire); err != nil {
			return nil, err
		}
		return core.TrackerEventSubmission{
			OrganisationUnitUID:     wire.OrganisationUnitUID,
			ProgramStageUID:         wire.ProgramStageUID,
			AttributeOptionComboUID: wire.AttributeOptionComboUID,
			EnrollmentUID:           wire.EnrollmentUID,
			Status:                  core.EventStatus(wire.Status),
			OccurredAt:              unixTime(wire.OccurredAt),
			Values:                  dataValuesFromWire(wire.Values),
		}, nil
	case core.SubmissionSimpleEvent:
		var wire simpleEventBody
		if err := c.unmarshalBody(body, &wire); err != nil {
			return nil, err
		}
		return core.SimpleEventSubmission{
			OrganisationUnitUID:     wire.OrganisationUnitUID,
			ProgramUID:              wire.ProgramUID,
			AttributeOptionComboUID: wire.AttributeOptionComboUID,
			Status:                  core.EventStatus(wire.Status),
			OccurredAt:              unixTime(wire.OccurredAt),
			Values:                  dataValuesFromWire(wire.Values),
		}, nil
	case core.SubmissionEnrollment:
		var wire enrollmentBody
		if err := c.unmarshalBody(body, &wire); err != nil {
			return nil, err
		}
		return core.EnrollmentSubmission{
			OrganisationUnitUID:  wire.OrganisationUnitUID,
			ProgramUID:           wire.ProgramUID,
			TrackedEntityTypeUID: wire.TrackedEntityTypeUID,
			TrackedEntityUID:     wire.TrackedEntityUID,
			EnrollmentDate:       unixTime(wire.EnrollmentDate),
			IncidentDate:         unixTime(wire.IncidentDate),
			Attributes:           attributesFromWire(wire.Attributes),
		}, nil
	case core.SubmissionDeletion:
		return core.DeletionSubmission{}, nil
	default:
		return core.UnknownSubmission{Kind: kind, Body: append([]byte(nil), body...)}, nil
	}
}

func (c *Codec) unmarshalBody(body msgpack.RawMessage, target any) error {
	if len(body) == 0 {
		return decodeError(fmt.Errorf("body is empty"), "codec: decode body")
	}
	if err := msgpack.Unmarshal(body, target); err != nil {
		return decodeError(err, "codec: decode body")
	}
	if err := c.validator().Struct(target); err != nil {
		return decodeError(err, "codec: invalid body")
	}
	return nil
}

// Encode renders submission in the wire format as base64 text.
func (c *Codec) Encode(submission core.Submission) ([]byte, error) {
	if err := submission.Validate(); err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput, "codec: encode submission")
	}
	body, err := encodeBody(submission.Payload)
	if err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput, "codec: encode body")
	}
	env := envelope{
		Version:      WireVersion,
		Kind:         string(submission.Kind),
		SubmissionID: submission.SubmissionID,
		UserUID:      submission.UserUID,
		EntityUID:    submission.EntityUID,
		Body:         body,
	}
	if err := c.validator().Struct(env); err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput, "codec: invalid envelope")
	}
	raw, err := msgpack.Marshal(env)
	if err != nil {
		return nil, core.WrapError(err, goerrors.CategoryInternal, core.ErrorInternal, "codec: encode envelope")
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

func (c *Codec) EncodeString(submission core.Submission) (string, error) {
	out, err := c.Encode(submission)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func encodeBody(payload core.SubmissionPayload) (msgpack.RawMessage, error) {
	var wire any
	switch body := payload.(type) {
	case core.RelationshipSubmission:
		wire = relationshipBody{
			RelationshipTypeUID: body.RelationshipTypeUID,
			FromUID:             body.FromUID,
			ToUID:               body.ToUID,
		}
	case core.TrackerEventSubmission:
		wire = trackerEventBody{
			OrganisationUnitUID:     body.OrganisationUnitUID,
			ProgramStageUID:         body.ProgramStageUID,
			AttributeOptionComboUID: body.AttributeOptionComboUID,
			EnrollmentUID:           body.EnrollmentUID,
			Status:                  string(body.Status),
			OccurredAt:              unixSeconds(body.OccurredAt),
			Values:                  dataValuesToWire(body.Values),
		}
	case core.SimpleEventSubmission:
		wire = simpleEventBody{
			OrganisationUnitUID:     body.OrganisationUnitUID,
			ProgramUID:              body.ProgramUID,
			AttributeOptionComboUID: body.AttributeOptionComboUID,
			Status:                  string(body.Status),
			OccurredAt:              unixSeconds(body.OccurredAt),
			Values:                  dataValuesToWire(body.Values),
		}
	case core.EnrollmentSubmission:
		wire = enrollmentBody{
			OrganisationUnitUID:  body.OrganisationUnitUID,
			ProgramUID:           body.ProgramUID,
			TrackedEntityTypeUID: body.TrackedEntityTypeUID,
			TrackedEntityUID:     body.TrackedEntityUID,
			EnrollmentDate:       unixSeconds(body.EnrollmentDate),
			IncidentDate:         unixSeconds(body.IncidentDate),
			Attributes:           attributesToWire(body.Attributes),
		}
	case core.DeletionSubmission:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported payload %T", payload)
	}
	return msgpack.Marshal(wire)
}

func decodeText(payload []byte) ([]byte, error) {
	text := bytes.TrimSpace(payload)
	if len(text) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(out, text)
	if err == nil {
		return out[:n], nil
	}
	out = make([]byte, base64.RawStdEncoding.DecodedLen(len(text)))
	n, rawErr := base64.RawStdEncoding.Decode(out, text)
	if rawErr != nil {
		return nil, err
	}
	return out[:n], nil
}

func decodeError(err error, message string) error {
	return core.WrapError(err, goerrors.CategoryBadInput, core.ErrorDecodeFailed, message)
}

func (c *Codec) validator() *validator.Validate {
	if c == nil || c.validate == nil {
		return defaultValidate
	}
	return c.validate
}

var defaultValidate = validator.New(validator.WithRequiredStructEnabled())

var _ core.Codec = (*Codec)(nil)
