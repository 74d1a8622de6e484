// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package validation

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

type listRequest struct {
	Tier      string `query:"tier" validate:"omitempty,tier"`
	Freshness string `query:"freshness" validate:"omitempty,freshness"`
	Limit     int    `query:"limit" validate:"min=1,max=500"`
	Offset    int    `query:"offset" validate:"min=0"`
}

type refreshRequest struct {
	VideoID string `json:"video_id" validate:"required"`
	Type    string `query:"type" validate:"sync_type"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     interface{}
		wantField string
		wantTag   string
	}{
		{"valid list", &listRequest{Tier: "HOT", Freshness: "stale", Limit: 50}, "", ""},
		{"empty enums allowed", &listRequest{Limit: 1}, "", ""},
		{"bad tier", &listRequest{Tier: "LUKEWARM", Limit: 10}, "tier", "tier"},
		{"lowercase tier", &listRequest{Tier: "hot", Limit: 10}, "tier", "tier"},
		{"bad freshness", &listRequest{Freshness: "old", Limit: 10}, "freshness", "freshness"},
		{"limit too large", &listRequest{Limit: 501}, "limit", "max"},
		{"limit zero", &listRequest{}, "limit", "min"},
		{"negative offset", &listRequest{Limit: 1, Offset: -1}, "offset", "min"},
		{"valid refresh", &refreshRequest{VideoID: "v", Type: "full"}, "", ""},
		{"missing video", &refreshRequest{Type: "basic"}, "video_id", "required"},
		{"bad sync type", &refreshRequest{VideoID: "v", Type: "partial"}, "type", "sync_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.input)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if len(verr.Fields) != 1 {
				t.Fatalf("fields = %+v, want one", verr.Fields)
			}
			f := verr.Fields[0]
			if f.Field != tt.wantField || f.Tag != tt.wantTag {
				t.Errorf("field error = %+v, want %s/%s", f, tt.wantField, tt.wantTag)
			}
			if !strings.HasPrefix(f.Message, tt.wantField) {
				t.Errorf("message %q should name the field", f.Message)
			}
		})
	}
}

func TestStruct_MultipleErrors(t *testing.T) {
	err := Struct(&listRequest{Tier: "X", Limit: 0})
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v", err)
	}
	if len(verr.Fields) != 2 {
		t.Errorf("fields = %+v, want two", verr.Fields)
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("Error() = %q, want joined messages", err.Error())
	}
}

func TestGet_Singleton(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Get()
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("Get returned different instances")
		}
	}
}
