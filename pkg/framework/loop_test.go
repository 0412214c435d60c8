package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopStepOrder(t *testing.T) {
	var order []int
	l := NewLoop()
	for _, lv := range []int{PrLvRecord, PrLvSerialRx, PrLvRASP, PrLvNVRAM} {
		lv := lv
		l.AddController(lv, ControlFunc(func(cc ControlContext) error {
			require.Equal(t, lv, cc.PriorityLevel())
			order = append(order, lv)
			return nil
		}))
	}
	now := time.Unix(100, 0)
	l.Step(context.Background(), now)
	require.Equal(t, []int{PrLvSerialRx, PrLvNVRAM, PrLvRASP, PrLvRecord}, order)
}

func TestLoopMessages(t *testing.T) {
	l := NewLoop()
	var seen []Message
	l.AddController(PrLvRecord, ControlFunc(func(cc ControlContext) error {
		cc.PostMessage("stored")
		return nil
	}))
	l.AddController(PrLvPostProc, ControlFunc(func(cc ControlContext) error {
		cc.Messages().ProcessMessages(ProcessMessageFunc(func(mc MessageProcessingContext) {
			if s, ok := mc.CurrentMessage().(string); ok && s == "stored" {
				seen = append(seen, s)
				mc.MessageTaken()
			}
		}))
		return nil
	}))
	ctx := context.Background()
	l.Step(ctx, time.Now())
	require.Empty(t, seen)
	l.Step(ctx, time.Now())
	require.Len(t, seen, 1)
	l.Step(ctx, time.Now())
	require.Len(t, seen, 2)
}

func TestLoopUntakenMessagesKept(t *testing.T) {
	l := NewLoop()
	l.PostMessage(1)
	var count int
	l.AddController(PrLvIdle, ControlFunc(func(cc ControlContext) error {
		cc.Messages().ProcessMessages(ProcessMessageFunc(func(mc MessageProcessingContext) {
			count++
		}))
		return nil
	}))
	l.Step(context.Background(), time.Now())
	l.Step(context.Background(), time.Now())
	require.Equal(t, 2, count)
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil).Aggregate())
	errs.Add(errors.New("a"))
	require.Equal(t, "a", errs.Aggregate().Error())
	errs.Add(errors.New("b"))
	require.Equal(t, "Multiple errors:\na\nb", errs.Aggregate().Error())
}

func TestRunnerWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunnerWith(ctx)
	r.Go(NamedRun("a", RunFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))
	cancel()
	require.NoError(t, r.Wait())
}
