package tool

import (
	"context"

	"csbridge/internal/domain"
	"csbridge/internal/notify"
)

// Notifier sends the pair of appointment emails.
type Notifier interface {
	SendBoth(ctx context.Context, info domain.AppointmentInfo) notify.BothOutcome
}

// RegisterEmailTool adds send_appointment_emails.
func RegisterEmailTool(reg *Registry, n Notifier) {
	reg.Register(&funcTool{
		name:        "send_appointment_emails",
		description: "预约成功后，向客户发送预约确认邮件并向技师发送新预约通知邮件",
		parameters: ToolParameters(map[string]Param{
			"customer_name":    {Type: "string", Description: "客户姓名"},
			"customer_phone":   {Type: "string", Description: "客户手机号"},
			"therapist_id":     {Type: "string", Description: "技师ID"},
			"appointment_date": {Type: "string", Description: "预约日期，格式 YYYY-MM-DD"},
			"appointment_time": {Type: "string", Description: "预约时间，格式 HH:MM"},
			"service_type":     {Type: "string", Description: "服务类型"},
			"notes":            {Type: "string", Description: "备注"},
		}, []string{"customer_name", "customer_phone", "therapist_id", "appointment_date", "appointment_time"}),
		run: func(ctx context.Context, args map[string]any) (any, error) {
			if err := RequireArgs("send_appointment_emails", args,
				"customer_name", "customer_phone", "therapist_id", "appointment_date", "appointment_time"); err != nil {
				return nil, err
			}
			info := domain.AppointmentInfo{
				CustomerName:    ArgsString(args, "customer_name"),
				CustomerPhone:   ArgsString(args, "customer_phone"),
				TherapistID:     ArgsString(args, "therapist_id"),
				AppointmentDate: ArgsString(args, "appointment_date"),
				AppointmentTime: ArgsString(args, "appointment_time"),
				ServiceType:     ArgsString(args, "service_type"),
				Notes:           ArgsString(args, "notes"),
			}
			out := n.SendBoth(ctx, info)
			return domain.ToolResult{
				Success: out.OverallSuccess,
				Payload: out,
				Message: out.Message,
			}, nil
		},
	})
}
