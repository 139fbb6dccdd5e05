package tool

import (
	"context"
	"strings"
	"time"

	"csbridge/internal/booking"
	"csbridge/internal/domain"
)

// BookingAPI is the subset of the booking client the tools call.
type BookingAPI interface {
	Stores(ctx context.Context) ([]booking.Store, error)
	SearchTherapists(ctx context.Context, q booking.TherapistQuery) ([]booking.Therapist, error)
	Schedule(ctx context.Context, therapistID, startDate, endDate string) ([]booking.ScheduleEntry, error)
	Availability(ctx context.Context, date, therapistID string) ([]booking.Slot, error)
	CreateAppointment(ctx context.Context, req booking.AppointmentRequest) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*booking.Appointment, error)
	UserAppointments(ctx context.Context, username string) ([]booking.Appointment, error)
	CancelAppointment(ctx context.Context, id, username string) error
}

// Linter reports forbidden phrases found in text.
type Linter interface {
	Lint(text string) []string
}

type BookingOptions struct {
	// DefaultUsername is the booking account used when the model omits one.
	DefaultUsername string
	Linter          Linter
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// funcTool adapts a closure to domain.Tool.
type funcTool struct {
	name        string
	description string
	parameters  map[string]any
	run         func(ctx context.Context, args map[string]any) (any, error)
}

func (t *funcTool) Name() string               { return t.name }
func (t *funcTool) Description() string        { return t.description }
func (t *funcTool) Parameters() map[string]any { return t.parameters }
func (t *funcTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.run(ctx, args)
}

// RegisterBookingTools adds the store, therapist and appointment tools.
func RegisterBookingTools(reg *Registry, api BookingAPI, opts BookingOptions) {
	for _, t := range bookingTools(api, opts) {
		reg.Register(t)
	}
}

func bookingTools(api BookingAPI, opts BookingOptions) []domain.Tool {
	username := func(args map[string]any) string {
		if u := ArgsString(args, "username"); u != "" {
			return u
		}
		return opts.DefaultUsername
	}

	return []domain.Tool{
		&funcTool{
			name:        "get_stores",
			description: "获取所有门店列表，包括门店名称、地址和联系方式",
			parameters:  ToolParameters(map[string]Param{}, nil),
			run: func(ctx context.Context, args map[string]any) (any, error) {
				return api.Stores(ctx)
			},
		},
		&funcTool{
			name:        "search_technicians",
			description: "按技师姓名、门店名称或服务类型搜索技师",
			parameters: ToolParameters(map[string]Param{
				"therapist_name": {Type: "string", Description: "技师姓名，支持模糊匹配"},
				"store_name":     {Type: "string", Description: "门店名称，例如：莘庄店"},
				"service_type":   {Type: "string", Description: "服务类型，例如：艾灸、推拿"},
			}, nil),
			run: func(ctx context.Context, args map[string]any) (any, error) {
				q := booking.TherapistQuery{
					TherapistName: firstArg(args, "therapist_name", "name"),
					StoreName:     ArgsString(args, "store_name"),
					ServiceType:   firstArg(args, "service_type", "skill"),
				}
				return api.SearchTherapists(ctx, q)
			},
		},
		&funcTool{
			name:        "query_technician_schedule",
			description: "查询指定技师在日期范围内的排班",
			parameters: ToolParameters(map[string]Param{
				"technician_id": {Type: "string", Description: "技师ID"},
				"start_date":    {Type: "string", Description: "开始日期，格式 YYYY-MM-DD"},
				"end_date":      {Type: "string", Description: "结束日期，格式 YYYY-MM-DD"},
			}, []string{"technician_id", "start_date", "end_date"}),
			run: func(ctx context.Context, args map[string]any) (any, error) {
				const name = "query_technician_schedule"
				if err := RequireArgs(name, args, "technician_id", "start_date", "end_date"); err != nil {
					return nil, err
				}
				start, end := ArgsString(args, "start_date"), ArgsString(args, "end_date")
				if err := checkLayout(name, "start_date", start, dateLayout); err != nil {
					return nil, err
				}
				if err := checkLayout(name, "end_date", end, dateLayout); err != nil {
					return nil, err
				}
				return api.Schedule(ctx, ArgsString(args, "technician_id"), start, end)
			},
		},
		&funcTool{
			name:        "query_available_appointments",
			description: "查询指定日期的可预约时间段，可按技师过滤",
			parameters: ToolParameters(map[string]Param{
				"target_date":   {Type: "string", Description: "目标日期，格式 YYYY-MM-DD"},
				"technician_id": {Type: "string", Description: "技师ID（可选）"},
			}, []string{"target_date"}),
			run: func(ctx context.Context, args map[string]any) (any, error) {
				const name = "query_available_appointments"
				date := firstArg(args, "target_date", "date")
				if date == "" {
					return nil, &domain.ToolArgumentError{Tool: name, Reason: "missing target_date"}
				}
				if err := checkLayout(name, "target_date", date, dateLayout); err != nil {
					return nil, err
				}
				return api.Availability(ctx, date, firstArg(args, "technician_id", "therapist_id"))
			},
		},
		&funcTool{
			name:        "create_appointment",
			description: "为客户创建预约。需要客户姓名、电话、技师ID、预约日期和时间",
			parameters: ToolParameters(map[string]Param{
				"customer_name":    {Type: "string", Description: "客户姓名"},
				"customer_phone":   {Type: "string", Description: "客户手机号"},
				"therapist_id":     {Type: "string", Description: "技师ID"},
				"appointment_date": {Type: "string", Description: "预约日期，格式 YYYY-MM-DD"},
				"appointment_time": {Type: "string", Description: "预约时间，格式 HH:MM"},
				"service_type":     {Type: "string", Description: "服务类型"},
				"notes":            {Type: "string", Description: "备注"},
				"username":         {Type: "string", Description: "预约账户名（可选）"},
			}, []string{"customer_name", "customer_phone", "therapist_id", "appointment_date", "appointment_time"}),
			run: func(ctx context.Context, args map[string]any) (any, error) {
				req, err := appointmentRequest(args, opts.Linter)
				if err != nil {
					return nil, err
				}
				req.Username = username(args)
				if req.Username == "" {
					req.Username = req.CustomerPhone
				}
				return api.CreateAppointment(ctx, req)
			},
		},
		&funcTool{
			name:        "get_appointment_details",
			description: "根据预约ID获取预约详情",
			parameters: ToolParameters(map[string]Param{
				"appointment_id": {Type: "string", Description: "预约ID"},
			}, []string{"appointment_id"}),
			run: func(ctx context.Context, args map[string]any) (any, error) {
				if err := RequireArgs("get_appointment_details", args, "appointment_id"); err != nil {
					return nil, err
				}
				return api.GetAppointment(ctx, ArgsString(args, "appointment_id"))
			},
		},
		&funcTool{
			name:        "get_user_appointments",
			description: "查询某个账户下的全部预约",
			parameters: ToolParameters(map[string]Param{
				"username": {Type: "string", Description: "预约账户名"},
			}, nil),
			run: func(ctx context.Context, args map[string]any) (any, error) {
				u := username(args)
				if u == "" {
					return nil, &domain.ToolArgumentError{Tool: "get_user_appointments", Reason: "missing username"}
				}
				return api.UserAppointments(ctx, u)
			},
		},
		&funcTool{
			name:        "cancel_appointment",
			description: "取消指定预约",
			parameters: ToolParameters(map[string]Param{
				"appointment_id": {Type: "string", Description: "预约ID"},
				"username":       {Type: "string", Description: "预约账户名"},
			}, []string{"appointment_id"}),
			run: func(ctx context.Context, args map[string]any) (any, error) {
				const name = "cancel_appointment"
				if err := RequireArgs(name, args, "appointment_id"); err != nil {
					return nil, err
				}
				u := username(args)
				if u == "" {
					return nil, &domain.ToolArgumentError{Tool: name, Reason: "missing username"}
				}
				id := ArgsString(args, "appointment_id")
				if err := api.CancelAppointment(ctx, id, u); err != nil {
					return nil, err
				}
				return map[string]any{"appointment_id": id, "cancelled": true}, nil
			},
		},
	}
}

// appointmentRequest validates create_appointment arguments.
func appointmentRequest(args map[string]any, linter Linter) (booking.AppointmentRequest, error) {
	const name = "create_appointment"
	if err := RequireArgs(name, args, "customer_name", "customer_phone", "therapist_id", "appointment_date", "appointment_time"); err != nil {
		return booking.AppointmentRequest{}, err
	}
	req := booking.AppointmentRequest{
		CustomerName:    ArgsString(args, "customer_name"),
		CustomerPhone:   ArgsString(args, "customer_phone"),
		TherapistID:     booking.ID(ArgsString(args, "therapist_id")),
		AppointmentDate: ArgsString(args, "appointment_date"),
		AppointmentTime: ArgsString(args, "appointment_time"),
		ServiceType:     ArgsString(args, "service_type"),
		Notes:           ArgsString(args, "notes"),
	}
	if err := checkLayout(name, "appointment_date", req.AppointmentDate, dateLayout); err != nil {
		return req, err
	}
	if err := checkLayout(name, "appointment_time", req.AppointmentTime, timeLayout); err != nil {
		return req, err
	}
	if linter != nil && req.Notes != "" {
		if hits := linter.Lint(req.Notes); len(hits) > 0 {
			return req, &domain.ToolArgumentError{Tool: name, Reason: "notes contain forbidden phrase: " + strings.Join(hits, "; ")}
		}
	}
	return req, nil
}

func checkLayout(tool, key, value, layout string) error {
	if _, err := time.Parse(layout, value); err != nil {
		return &domain.ToolArgumentError{Tool: tool, Reason: key + " must match " + layoutLabel(layout), Err: err}
	}
	return nil
}

func layoutLabel(layout string) string {
	if layout == timeLayout {
		return "HH:MM"
	}
	return "YYYY-MM-DD"
}

func firstArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := ArgsString(args, k); v != "" {
			return v
		}
	}
	return ""
}
