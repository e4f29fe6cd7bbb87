package server

import (
	"context"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/wire"
)

// HandleRequest executes one device request and builds its response.
// It never returns nil.
func HandleRequest(ctx context.Context, dev device.Device, req *wire.Request) *wire.Response {
	result, err := route(ctx, dev, req)
	if err != nil {
		return wire.NewErrorResponse(req.MessageID, err)
	}
	resp, err := wire.NewResponse(req.MessageID, result)
	if err != nil {
		return wire.NewErrorResponse(req.MessageID, model.WrapError(model.KindCommunicationError, err, "encode %s result", req.Operation))
	}
	return resp
}

func route(ctx context.Context, dev device.Device, req *wire.Request) (any, error) {
	switch req.Operation {
	case wire.OpDescribe:
		return dev.DescribeCapabilities(ctx)

	case wire.OpListSettings:
		settings, err := dev.ListSettings(ctx)
		if err != nil {
			return nil, err
		}
		return wire.SettingListPayload{Settings: settings}, nil

	case wire.OpGetSetting:
		var p wire.SettingPayload
		if err := decodeNamed(req, &p); err != nil {
			return nil, err
		}
		v, err := dev.GetSetting(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		return wire.SettingPayload{Name: p.Name, Value: v}, nil

	case wire.OpSetSetting:
		var p wire.SettingPayload
		if err := decodeNamed(req, &p); err != nil {
			return nil, err
		}
		return nil, dev.SetSetting(ctx, p.Name, p.Value)

	case wire.OpUpdateSettings:
		var p wire.SettingsPayload
		if err := wire.DecodePayload(req.Payload, &p); err != nil {
			return nil, err
		}
		return nil, dev.UpdateSettings(ctx, p.Values)

	case wire.OpArm:
		return nil, dev.Arm(ctx)

	case wire.OpTrigger:
		return nil, dev.Trigger(ctx)

	case wire.OpAbort:
		return nil, dev.Abort(ctx)

	case wire.OpReset:
		return nil, dev.Reset(ctx)

	case wire.OpFetchFrame:
		var p wire.FetchPayload
		if err := wire.DecodePayload(req.Payload, &p); err != nil {
			return nil, err
		}
		f, err := dev.FetchFrame(ctx, p.Timeout())
		if err != nil {
			return nil, err
		}
		return wire.FramePayload{Frame: f}, nil

	case wire.OpState:
		return dev.State(ctx)

	case wire.OpBufferStats:
		return dev.BufferStats(ctx)

	case wire.OpMoveTo:
		var p wire.AxesPayload
		if err := wire.DecodePayload(req.Payload, &p); err != nil {
			return nil, err
		}
		return nil, dev.MoveTo(ctx, p.Axes)

	case wire.OpMoveBy:
		var p wire.AxesPayload
		if err := wire.DecodePayload(req.Payload, &p); err != nil {
			return nil, err
		}
		return nil, dev.MoveBy(ctx, p.Axes)

	case wire.OpPositions:
		pos, err := dev.Positions(ctx)
		if err != nil {
			return nil, err
		}
		return wire.AxesPayload{Axes: pos}, nil

	default:
		return nil, model.NewError(model.KindInvalidRequest, "unsupported operation %s", req.Operation)
	}
}

func decodeNamed(req *wire.Request, p *wire.SettingPayload) error {
	if err := wire.DecodePayload(req.Payload, p); err != nil {
		return err
	}
	if p.Name == "" {
		return model.NewError(model.KindInvalidRequest, "%s requires a setting name", req.Operation)
	}
	return nil
}
