package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ResponseCode is the wire-visible acknowledgement code. Values and wording
// are part of the compatibility surface and must not change once published.
type ResponseCode int

const (
	ResponseSuccess                     ResponseCode = 0
	ResponseInternalFailure             ResponseCode = 101
	ResponseDecodeError                 ResponseCode = 103
	ResponseUnsupportedKind             ResponseCode = 104
	ResponseInvalidUser                 ResponseCode = 201
	ResponseInvalidOrgUnit              ResponseCode = 202
	ResponseInvalidProgram              ResponseCode = 203
	ResponseInvalidTrackedEntityType    ResponseCode = 204
	ResponseInvalidAttributeOptionCombo ResponseCode = 207
	ResponseInvalidTrackedEntity        ResponseCode = 208
	ResponseInvalidProgramStage         ResponseCode = 209
	ResponseInvalidEvent                ResponseCode = 210
	ResponseInvalidRelationshipType     ResponseCode = 211
	ResponseInvalidEnrollment           ResponseCode = 212
	ResponseInvalidAttribute            ResponseCode = 213
	ResponseInvalidDataElement          ResponseCode = 214
	ResponseInvalidCategoryOptionCombo  ResponseCode = 215
	ResponseUserNotInOrgUnit            ResponseCode = 301
	ResponseOrgUnitNotInProgram         ResponseCode = 302
	ResponseMultipleProgramStages       ResponseCode = 307
	ResponseAttributeValueNotUnique     ResponseCode = 311
)

type responseRule struct {
	name        string
	description string
}

var responseRules = map[ResponseCode]responseRule{
	ResponseSuccess:                     {"SUCCESS", "Submission has been processed successfully"},
	ResponseInternalFailure:             {"UNKNOWN_ERROR", "An unknown error occurred"},
	ResponseDecodeError:                 {"READ_ERROR", "An unknown error occurred reading submission"},
	ResponseUnsupportedKind:             {"UNSUPPORTED_TYPE", "Submission type [%s] is not supported"},
	ResponseInvalidUser:                 {"INVALID_USER", "User [%s] does not exist"},
	ResponseInvalidOrgUnit:              {"INVALID_ORGUNIT", "Organisation unit [%s] does not exist"},
	ResponseInvalidProgram:              {"INVALID_PROGRAM", "Program [%s] does not exist"},
	ResponseInvalidTrackedEntityType:    {"INVALID_TETYPE", "Tracked Entity Type [%s] does not exist"},
	ResponseInvalidAttributeOptionCombo: {"INVALID_AOC", "Attribute Option Combo [%s] does not exist"},
	ResponseInvalidTrackedEntity:        {"INVALID_TEI", "Tracked Entity Instance [%s] does not exist"},
	ResponseInvalidProgramStage:         {"INVALID_STAGE", "Program Stage [%s] does not exist"},
	ResponseInvalidEvent:                {"INVALID_EVENT", "Event [%s] does not exist"},
	ResponseInvalidRelationshipType:     {"INVALID_RELTYPE", "Relationship Type [%s] does not exist"},
	ResponseInvalidEnrollment:           {"INVALID_ENROLL", "Enrollment [%s] does not exist"},
	ResponseInvalidAttribute:            {"INVALID_ATTRIB", "Attribute [%s] does not exist"},
	ResponseInvalidDataElement:          {"INVALID_DATAELEMENT", "Data Element [%s] does not exist"},
	ResponseInvalidCategoryOptionCombo:  {"INVALID_COC", "Category Option Combo [%s] does not exist"},
	ResponseUserNotInOrgUnit:            {"USER_NOTIN_OU", "User [%s] does not belong to organisation unit [%s]"},
	ResponseOrgUnitNotInProgram:         {"OU_NOTIN_PROGRAM", "Organisation unit [%s] is not assigned to program [%s]"},
	ResponseMultipleProgramStages:       {"MULTI_STAGES", "Multiple program stages found for event capture program [%s]"},
	ResponseAttributeValueNotUnique:     {"NON_UNIQUE_ATTRIB", "Value for attribute [%s] is not unique"},
}

var notFoundCodes = map[EntityKind]ResponseCode{
	EntityUser:                   ResponseInvalidUser,
	EntityOrganisationUnit:       ResponseInvalidOrgUnit,
	EntityProgram:                ResponseInvalidProgram,
	EntityProgramStage:           ResponseInvalidProgramStage,
	EntityTrackedEntityType:      ResponseInvalidTrackedEntityType,
	EntityTrackedEntityAttribute: ResponseInvalidAttribute,
	EntityDataElement:            ResponseInvalidDataElement,
	EntityCategoryOptionCombo:    ResponseInvalidCategoryOptionCombo,
	EntityRelationshipType:       ResponseInvalidRelationshipType,
	EntityTrackedEntity:          ResponseInvalidTrackedEntity,
	EntityEnrollment:             ResponseInvalidEnrollment,
	EntityEvent:                  ResponseInvalidEvent,
}

// NotFoundCode returns the InvalidX code for a reference kind that failed to
// resolve. Kinds without a dedicated code map to InternalFailure.
func NotFoundCode(kind EntityKind) ResponseCode {
	if code, ok := notFoundCodes[kind]; ok {
		return code
	}
	return ResponseInternalFailure
}

func ResponseCodes() []ResponseCode {
	codes := make([]ResponseCode, 0, len(responseRules))
	for code := range responseRules {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

func (c ResponseCode) Known() bool {
	_, ok := responseRules[c]
	return ok
}

func (c ResponseCode) Name() string {
	return c.rule().name
}

func (c ResponseCode) Success() bool {
	return c == ResponseSuccess
}

func (c ResponseCode) String() string {
	return c.Name() + "(" + strconv.Itoa(int(c)) + ")"
}

func (c ResponseCode) rule() responseRule {
	if rule, ok := responseRules[c]; ok {
		return rule
	}
	return responseRules[ResponseInternalFailure]
}

// ResponseOutcome is the single terminal result of processing one submission.
type ResponseOutcome struct {
	Code         ResponseCode
	SubmissionID int
	Refs         []string
}

func NewOutcome(code ResponseCode, submissionID int, refs ...string) ResponseOutcome {
	return ResponseOutcome{
		Code:         code,
		SubmissionID: submissionID,
		Refs:         cleanRefs(refs),
	}
}

func SuccessOutcome(submissionID int) ResponseOutcome {
	return NewOutcome(ResponseSuccess, submissionID)
}

func InternalFailureOutcome(submissionID int) ResponseOutcome {
	return NewOutcome(ResponseInternalFailure, submissionID)
}

// Normalize folds unmapped codes into InternalFailure.
func (o ResponseOutcome) Normalize() ResponseOutcome {
	if !o.Code.Known() {
		o.Code = ResponseInternalFailure
		o.Refs = nil
	}
	o.Refs = cleanRefs(o.Refs)
	return o
}

func (o ResponseOutcome) Success() bool {
	return o.Code.Success()
}

func (o ResponseOutcome) Description() string {
	o = o.Normalize()
	rule := o.Code.rule()
	arity := strings.Count(rule.description, "%s")
	if arity == 0 {
		return rule.description
	}
	args := make([]any, arity)
	for i := range args {
		if i < len(o.Refs) {
			args[i] = o.Refs[i]
			continue
		}
		args[i] = ""
	}
	return fmt.Sprintf(rule.description, args...)
}

// Render produces the acknowledgement text: <submissionID>:<code>:<description>.
func (o ResponseOutcome) Render() string {
	o = o.Normalize()
	return strconv.Itoa(o.SubmissionID) + ":" + strconv.Itoa(int(o.Code)) + ":" + o.Description()
}

func (o ResponseOutcome) Equal(other ResponseOutcome) bool {
	a := o.Normalize()
	b := other.Normalize()
	if a.Code != b.Code || a.SubmissionID != b.SubmissionID || len(a.Refs) != len(b.Refs) {
		return false
	}
	for i := range a.Refs {
		if a.Refs[i] != b.Refs[i] {
			return false
		}
	}
	return true
}

func cleanRefs(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, strings.TrimSpace(ref))
	}
	return out
}
