package notify

import (
	"fmt"
	"strings"
	"time"

	"csbridge/internal/domain"
)

const stampLayout = "2006年01月02日 15:04"

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// CustomerConfirmation renders the confirmation mail sent to the customer.
func CustomerConfirmation(info domain.AppointmentInfo, now time.Time) (subject, body string) {
	customer := orDefault(info.CustomerName, "客户")
	subject = fmt.Sprintf("【预约确认】%s您的预约已确认", customer)

	var b strings.Builder
	fmt.Fprintf(&b, "尊敬的%s，您好！\n\n", customer)
	b.WriteString("您的预约已成功确认，详情如下：\n\n")
	b.WriteString("📋 预约信息：\n")
	fmt.Fprintf(&b, "• 服务项目：%s\n", orDefault(info.ServiceType, "服务"))
	fmt.Fprintf(&b, "• 预约日期：%s\n", info.AppointmentDate)
	fmt.Fprintf(&b, "• 预约时间：%s\n", info.AppointmentTime)
	fmt.Fprintf(&b, "• 服务技师：%s\n", orDefault(info.TherapistName, "技师"))
	fmt.Fprintf(&b, "• 服务门店：%s\n\n", orDefault(info.StoreName, "门店"))
	b.WriteString("📞 温馨提示：\n")
	b.WriteString("• 请提前10分钟到达门店\n")
	b.WriteString("• 如需修改或取消预约，请及时联系我们\n")
	b.WriteString("• 感谢您的信任与支持！\n\n")
	b.WriteString("此邮件为系统自动发送，请勿直接回复。\n")
	b.WriteString("如有疑问请联系客服。\n\n")
	b.WriteString(now.Format(stampLayout))
	return subject, b.String()
}

// TherapistNotification renders the new-booking mail sent to the therapist.
func TherapistNotification(info domain.AppointmentInfo, now time.Time) (subject, body string) {
	therapist := orDefault(info.TherapistName, "技师")
	subject = fmt.Sprintf("【新预约通知】%s，您有新的预约", therapist)

	var b strings.Builder
	fmt.Fprintf(&b, "亲爱的%s，您好！\n\n", therapist)
	b.WriteString("您有一个新的预约，请注意安排：\n\n")
	b.WriteString("👤 客户信息：\n")
	fmt.Fprintf(&b, "• 客户姓名：%s\n", orDefault(info.CustomerName, "客户"))
	fmt.Fprintf(&b, "• 联系电话：%s\n\n", info.CustomerPhone)
	b.WriteString("📋 预约详情：\n")
	fmt.Fprintf(&b, "• 服务项目：%s\n", orDefault(info.ServiceType, "服务"))
	fmt.Fprintf(&b, "• 预约日期：%s\n", info.AppointmentDate)
	fmt.Fprintf(&b, "• 预约时间：%s\n", info.AppointmentTime)
	fmt.Fprintf(&b, "• 服务门店：%s", orDefault(info.StoreName, "门店"))
	if strings.TrimSpace(info.Notes) != "" {
		fmt.Fprintf(&b, "\n• 备注信息：%s", info.Notes)
	}
	b.WriteString("\n\n📝 注意事项：\n")
	b.WriteString("• 请提前准备相关服务用品\n")
	b.WriteString("• 如有时间冲突请及时联系管理员\n")
	b.WriteString("• 请确保按时到岗为客户提供优质服务\n\n")
	b.WriteString("此邮件为系统自动发送，请勿直接回复。\n")
	b.WriteString("如有疑问请联系管理员。\n\n")
	b.WriteString(now.Format(stampLayout))
	return subject, b.String()
}
