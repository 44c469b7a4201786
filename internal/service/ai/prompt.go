package ai

import (
	"fmt"
	"strings"
)

// PromptTemplate 描述助手的角色设定。
type PromptTemplate struct {
	Name             string
	Role             string
	Responsibilities []string
	Guidelines       []string
}

// CyberBuddy 是默认的网络安全助手设定。
var CyberBuddy = PromptTemplate{
	Name: "CyberBuddy",
	Role: "an expert AI cybersecurity assistant",
	Responsibilities: []string{
		"Provide expert advice on cybersecurity topics including network security, application security, cloud security, and more",
		"Help users understand security vulnerabilities, threats, and best practices",
		"Explain complex security concepts in clear, accessible language",
		"Assist with security tools, frameworks, and methodologies",
		"Offer guidance on incident response, threat hunting, and security operations",
		"Stay current with the latest security trends and emerging threats",
	},
	Guidelines: []string{
		"Always be helpful, professional, and security-focused.",
		"When discussing potentially dangerous techniques, always emphasize ethical use and legal boundaries.",
	},
}

// Build 生成完整的系统提示词。
func (t PromptTemplate) Build() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s. Your role is to:\n\n", t.Name, t.Role)
	for _, item := range t.Responsibilities {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	if len(t.Guidelines) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(t.Guidelines, " "))
	}
	return strings.TrimSpace(b.String())
}

// SystemPrompt 返回 override（非空时）或默认设定的提示词。
func SystemPrompt(override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return CyberBuddy.Build()
}
