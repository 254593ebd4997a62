//go:build !integration

package redis

import (
	"testing"

	"invoice-ocr-pipeline/internal/domain/model"
)

func TestTypeFor(t *testing.T) {
	tests := []struct {
		jobKind model.JobKind
		kind    model.NotificationKind
		want    string
	}{
		{model.JobKindOCRExtraction, model.NotificationKindSuccess, TypeOCRCompleted},
		{model.JobKindOCRExtraction, model.NotificationKindFailure, TypeOCRFailed},
		{model.JobKindAITraining, model.NotificationKindSuccess, TypeAITraining},
		{model.JobKindAITraining, model.NotificationKindFailure, TypeAITraining},
		{model.JobKindNotification, model.NotificationKindFailure, TypeSystem},
	}
	for _, tt := range tests {
		n := &model.Notification{JobKind: tt.jobKind, Kind: tt.kind}
		if got := TypeFor(n); got != tt.want {
			t.Errorf("TypeFor(%s/%s) = %s, want %s", tt.jobKind, tt.kind, got, tt.want)
		}
		if _, ok := channels[TypeFor(n)]; !ok {
			t.Errorf("type %s has no channel", TypeFor(n))
		}
	}
}
