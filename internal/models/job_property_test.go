package models

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genJobStatus generates a random JobStatus.
func genJobStatus() gopter.Gen {
	return gen.OneConstOf(
		JobStatusQueued,
		JobStatusRunning,
		JobStatusCompleted,
		JobStatusFailed,
	)
}

// genTime generates a random time truncated to second precision for JSON
// compatibility.
func genTime() gopter.Gen {
	return gen.Int64Range(0, 2000000000).Map(func(secs int64) time.Time {
		return time.Unix(secs, 0).UTC()
	})
}

// genOptionalTime generates an optional time pointer.
func genOptionalTime() gopter.Gen {
	return gen.Bool().FlatMap(func(v interface{}) gopter.Gen {
		if v.(bool) {
			return genTime().Map(func(t time.Time) *time.Time {
				return &t
			})
		}
		return gen.Const((*time.Time)(nil))
	}, reflect.TypeOf((*time.Time)(nil)))
}

// genBuildJob generates a random BuildJob whose artifact/error fields agree
// with its status.
func genBuildJob() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(), // ID
		genJobStatus(),   // Status
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }), // FileName
		gen.Int64Range(1, 1<<30), // Size
		gen.Bool(),               // HasKeystore
		gen.Bool(),               // SkipAlignment
		genTime(),                // CreatedAt
		genOptionalTime(),        // StartedAt
		genOptionalTime(),        // CompletedAt
	).Map(func(vals []interface{}) BuildJob {
		job := BuildJob{
			ID:     vals[0].(string),
			Status: vals[1].(JobStatus),
			Input: BundleInput{
				FileName:      vals[2].(string),
				Size:          vals[3].(int64),
				HasKeystore:   vals[4].(bool),
				SkipAlignment: vals[5].(bool),
			},
			CreatedAt:   vals[6].(time.Time),
			StartedAt:   vals[7].(*time.Time),
			CompletedAt: vals[8].(*time.Time),
		}
		switch job.Status {
		case JobStatusCompleted:
			job.Artifact = &Artifact{
				FileName:    job.Input.FileName + "-signed.apk",
				Size:        job.Input.Size,
				ContentHash: "deadbeef",
			}
		case JobStatusFailed:
			job.Error = "build failed"
		}
		return job
	})
}

func jsonEqual(a, b interface{}) bool {
	jsonA, errA := json.Marshal(a)
	jsonB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(jsonA) == string(jsonB)
}

// TestBuildJobJSONRoundTrip checks that jobs survive the JSON encoding used
// by the HTTP API.
func TestBuildJobJSONRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("BuildJob JSON round-trip preserves data", prop.ForAll(
		func(original BuildJob) bool {
			data, err := json.Marshal(original)
			if err != nil {
				return false
			}
			var restored BuildJob
			if err := json.Unmarshal(data, &restored); err != nil {
				return false
			}
			return jsonEqual(original, restored)
		},
		genBuildJob(),
	))

	properties.TestingRun(t)
}

// TestStatusTransitions checks the job lifecycle rules.
func TestStatusTransitions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal statuses admit no transitions", prop.ForAll(
		func(from, to JobStatus) bool {
			if from.Terminal() {
				return !from.CanTransitionTo(to)
			}
			return true
		},
		genJobStatus(),
		genJobStatus(),
	))

	properties.Property("queued only moves to running", prop.ForAll(
		func(to JobStatus) bool {
			got := JobStatusQueued.CanTransitionTo(to)
			return got == (to == JobStatusRunning)
		},
		genJobStatus(),
	))

	properties.Property("running only moves to a terminal status", prop.ForAll(
		func(to JobStatus) bool {
			got := JobStatusRunning.CanTransitionTo(to)
			return got == to.Terminal()
		},
		genJobStatus(),
	))

	properties.Property("generated jobs are internally consistent", prop.ForAll(
		func(job BuildJob) bool {
			return job.Consistent()
		},
		genBuildJob(),
	))

	properties.TestingRun(t)
}
