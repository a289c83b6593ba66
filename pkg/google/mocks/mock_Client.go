// Package mocks provides test doubles for the google client.
package mocks

import (
	"context"

	google "github.com/sells-group/directory-cli/pkg/google"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// TextSearch provides a mock function with given fields: ctx, query
func (_m *MockClient) TextSearch(ctx context.Context, query string) (*google.TextSearchResponse, error) {
	ret := _m.Called(ctx, query)

	if len(ret) == 0 {
		panic("no return value specified for TextSearch")
	}

	var r0 *google.TextSearchResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*google.TextSearchResponse, error)); ok {
		return rf(ctx, query)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *google.TextSearchResponse); ok {
		r0 = rf(ctx, query)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*google.TextSearchResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, query)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// PlaceDetails provides a mock function with given fields: ctx, placeID
func (_m *MockClient) PlaceDetails(ctx context.Context, placeID string) (*google.Place, error) {
	ret := _m.Called(ctx, placeID)

	if len(ret) == 0 {
		panic("no return value specified for PlaceDetails")
	}

	var r0 *google.Place
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*google.Place, error)); ok {
		return rf(ctx, placeID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *google.Place); ok {
		r0 = rf(ctx, placeID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*google.Place)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, placeID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Reviews provides a mock function with given fields: ctx, placeID
func (_m *MockClient) Reviews(ctx context.Context, placeID string) ([]google.Review, error) {
	ret := _m.Called(ctx, placeID)

	if len(ret) == 0 {
		panic("no return value specified for Reviews")
	}

	var r0 []google.Review
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]google.Review, error)); ok {
		return rf(ctx, placeID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) []google.Review); ok {
		r0 = rf(ctx, placeID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]google.Review)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, placeID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// PhotoMedia provides a mock function with given fields: ctx, photoName, maxWidthPx
func (_m *MockClient) PhotoMedia(ctx context.Context, photoName string, maxWidthPx int) (*google.PhotoMedia, error) {
	ret := _m.Called(ctx, photoName, maxWidthPx)

	if len(ret) == 0 {
		panic("no return value specified for PhotoMedia")
	}

	var r0 *google.PhotoMedia
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, int) (*google.PhotoMedia, error)); ok {
		return rf(ctx, photoName, maxWidthPx)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, int) *google.PhotoMedia); ok {
		r0 = rf(ctx, photoName, maxWidthPx)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*google.PhotoMedia)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, int) error); ok {
		r1 = rf(ctx, photoName, maxWidthPx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
