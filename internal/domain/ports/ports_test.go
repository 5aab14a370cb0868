package ports

import (
	"context"
	"io"
	"reflect"
	"testing"

	"dogetionary/internal/domain"
)

func TestQuestionSourceInterface(t *testing.T) {
	typ := reflect.TypeOf((*QuestionSource)(nil)).Elem()

	assertMethod(t, typ, "NextReviewBatch", []reflect.Type{
		contextType(),
		reflect.TypeOf(""),
		reflect.TypeOf(0),
		reflect.TypeOf([]string{}),
	}, []reflect.Type{
		reflect.TypeOf(domain.QuestionBatch{}),
		errorType(),
	})
}

func TestVideoSourceInterface(t *testing.T) {
	typ := reflect.TypeOf((*VideoSource)(nil)).Elem()

	assertMethod(t, typ, "OpenVideo", []reflect.Type{
		contextType(),
		reflect.TypeOf(int64(0)),
	}, []reflect.Type{
		reflect.TypeOf((*io.ReadCloser)(nil)).Elem(),
		reflect.TypeOf(int64(0)),
		reflect.TypeOf(""),
		errorType(),
	})
}

func TestVideoCoordinatorInterface(t *testing.T) {
	typ := reflect.TypeOf((*VideoCoordinator)(nil)).Elem()

	assertMethod(t, typ, "State", []reflect.Type{reflect.TypeOf(int64(0))}, []reflect.Type{reflect.TypeOf(domain.DownloadState{})})
	assertMethod(t, typ, "FetchVideo", []reflect.Type{contextType(), reflect.TypeOf(int64(0))}, []reflect.Type{reflect.TypeOf(""), errorType()})
	assertMethod(t, typ, "PreloadVideos", []reflect.Type{reflect.TypeOf([]int64{})}, nil)
}

func TestPlayerPoolInterface(t *testing.T) {
	typ := reflect.TypeOf((*PlayerPool)(nil)).Elem()

	assertMethod(t, typ, "Prepare", []reflect.Type{reflect.TypeOf(int64(0)), reflect.TypeOf("")}, nil)
	assertMethod(t, typ, "Release", []reflect.Type{reflect.TypeOf(int64(0))}, nil)
	assertMethod(t, typ, "ReleaseAllExcept", []reflect.Type{reflect.TypeOf((*int64)(nil))}, nil)
	assertMethod(t, typ, "Len", nil, []reflect.Type{reflect.TypeOf(0)})
}

func TestQuestionCacheInterface(t *testing.T) {
	typ := reflect.TypeOf((*QuestionCache)(nil)).Elem()
	key := reflect.TypeOf(domain.QuestionCacheKey{})

	assertMethod(t, typ, "Put", []reflect.Type{contextType(), key, reflect.TypeOf(domain.ReviewQuestion{})}, []reflect.Type{errorType()})
	assertMethod(t, typ, "Get", []reflect.Type{contextType(), key}, []reflect.Type{reflect.TypeOf(domain.ReviewQuestion{}), reflect.TypeOf(true), errorType()})
	assertMethod(t, typ, "Delete", []reflect.Type{contextType(), key}, []reflect.Type{errorType()})
}

func TestNopEventsImplementsEventSink(t *testing.T) {
	var sink EventSink = NopEvents{}
	sink.QueueChanged(domain.QueueState{})
	sink.DownloadChanged(domain.NotStarted(1))
	sink.Publish("noop", nil)
}

func assertMethod(t *testing.T, typ reflect.Type, name string, in []reflect.Type, out []reflect.Type) {
	t.Helper()
	method, ok := typ.MethodByName(name)
	if !ok {
		t.Fatalf("missing method %s", name)
	}

	if method.Type.NumIn() != len(in) {
		t.Fatalf("%s NumIn = %d, want %d", name, method.Type.NumIn(), len(in))
	}
	for i, typIn := range in {
		if got := method.Type.In(i); got != typIn {
			t.Fatalf("%s In[%d] = %s, want %s", name, i, got, typIn)
		}
	}

	if method.Type.NumOut() != len(out) {
		t.Fatalf("%s NumOut = %d, want %d", name, method.Type.NumOut(), len(out))
	}
	for i, typOut := range out {
		if got := method.Type.Out(i); got != typOut {
			t.Fatalf("%s Out[%d] = %s, want %s", name, i, got, typOut)
		}
	}
}

func contextType() reflect.Type {
	return reflect.TypeOf((*context.Context)(nil)).Elem()
}

func errorType() reflect.Type {
	return reflect.TypeOf((*error)(nil)).Elem()
}
