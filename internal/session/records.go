package session

import (
	"encoding/json"

	"github.com/pkg/errors"

	"example.com/backstage/services/aggregation/internal/classifier"
	"example.com/backstage/services/aggregation/internal/gs1"
	"example.com/backstage/services/aggregation/internal/model"
)

func toRecord(sessionID string, code classifier.ClassifiedCode) (model.ScannedCode, error) {
	data, err := json.Marshal(code.GS1Data)
	if err != nil {
		return model.ScannedCode{}, errors.Wrap(err, "failed to marshal gs1 data")
	}
	return model.ScannedCode{
		SessionID:   sessionID,
		RawValue:    code.RawValue,
		Symbology:   string(code.Symbology),
		ContentType: string(code.ContentType),
		GS1Data:     data,
		FirstSeenAt: code.FirstSeenAt,
		LastSeenAt:  code.LastSeenAt,
	}, nil
}

func toRecords(sessionID string, codes []classifier.ClassifiedCode) ([]model.ScannedCode, error) {
	records := make([]model.ScannedCode, 0, len(codes))
	for _, code := range codes {
		rec, err := toRecord(sessionID, code)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func fromRecord(rec model.ScannedCode) (classifier.ClassifiedCode, error) {
	code := classifier.ClassifiedCode{
		RawValue:    rec.RawValue,
		Symbology:   gs1.Symbology(rec.Symbology),
		ContentType: classifier.ContentType(rec.ContentType),
		GS1Data:     []string{},
		FirstSeenAt: rec.FirstSeenAt,
		LastSeenAt:  rec.LastSeenAt,
	}
	if len(rec.GS1Data) > 0 {
		if err := json.Unmarshal(rec.GS1Data, &code.GS1Data); err != nil {
			return code, errors.Wrapf(err, "failed to unmarshal gs1 data of %q", rec.RawValue)
		}
	}
	return code, nil
}

func taskRecord(task *model.Task) (*model.TaskRecord, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal task")
	}
	return &model.TaskRecord{ID: task.ID, Payload: payload}, nil
}

func taskFromRecord(rec model.TaskRecord) (*model.Task, error) {
	var task model.Task
	if err := json.Unmarshal(rec.Payload, &task); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal task %s", rec.ID)
	}
	return &task, nil
}
