package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/abby/backend/internal/model/persona"
	"github.com/zhouzirui/abby/backend/internal/model/settings"
)

var therapistRole = []string{
	"Listen actively and provide supportive responses",
	"Ask thoughtful follow-up questions to help users explore their feelings",
	"Validate emotions without judgment",
	"Offer gentle insights and coping strategies when appropriate",
	"Maintain a warm, professional, and caring tone",
	"Keep responses concise (2-4 sentences typically)",
	"Never diagnose conditions or replace professional mental health care",
	"Encourage seeking professional help for serious concerns",
}

// BuildSystemPrompt 生成治疗师角色的系统提示词。
func BuildSystemPrompt(p persona.Persona) string {
	name := settings.NormalizeName(p.Name)

	var b strings.Builder
	fmt.Fprintf(&b, "Your name is %s. You are a compassionate and empathetic therapist.\n\n", name)
	fmt.Fprintf(&b, "IMPORTANT: %s is YOUR name (the therapist), NOT the client's name.\n\n", name)

	if client := strings.TrimSpace(p.ClientName); client != "" {
		fmt.Fprintf(&b, "The client's name is %s. Use their name occasionally and naturally in conversation.\n\n", client)
	}

	b.WriteString("Your role is to:\n")
	for _, line := range therapistRole {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "- Never refer to yourself as an AI - you're simply %s, a therapist here to help\n\n", name)
	fmt.Fprintf(&b, "Remember: You're %s, the therapist providing a safe space for your client.", name)

	return b.String()
}
