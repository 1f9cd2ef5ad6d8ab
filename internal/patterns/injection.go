package patterns

// InjectionPatterns returns the built-in prompt-injection catalogue. Matches
// are expected to run against normalized text so that zero-width and
// homoglyph obfuscation has already been folded away.
func InjectionPatterns() []*Pattern {
	var out []*Pattern
	out = append(out, instructionOverridePatterns()...)
	out = append(out, roleManipulationPatterns()...)
	out = append(out, skeletonKeyPatterns()...)
	out = append(out, delimiterEscapePatterns()...)
	out = append(out, encodingAttackPatterns()...)
	out = append(out, manyShotPatterns()...)
	out = append(out, virtualizationPatterns()...)
	out = append(out, markdownInjectionPatterns()...)
	out = append(out, indirectInjectionPatterns()...)
	out = append(out, toolAbusePatterns()...)
	out = append(out, dataExfiltrationPatterns()...)
	out = append(out, privilegeEscalationPatterns()...)
	out = append(out, memoryPoisoningPatterns()...)
	out = append(out, chainInjectionPatterns()...)
	out = append(out, historyManipulationPatterns()...)
	return out
}

// Direct attempts to displace the standing instructions.
func instructionOverridePatterns() []*Pattern {
	return []*Pattern{
		NewPattern("instruction_override_ignore").
			WithRegex(`(?i)ignore\s+(?:all\s+)?(?:the\s+)?(?:previous|prior|above|earlier|preceding)\s+(?:\w+\s+)?\w*(?:instructions?|prompts?|directives?|rules?|commands?)`).
			WithType(TypeInstructionOverride).
			WithSeverity(SeverityCritical).
			WithDescription("Request to ignore prior instructions").
			Build(),
		NewPattern("instruction_override_disregard").
			WithRegex(`(?i)disregard\s+(?:all\s+|any\s+)?(?:previous|prior|your|earlier)\s+(?:\w+\s+)?\w*(?:instructions?|training|guidelines?|rules?)`).
			WithType(TypeInstructionOverride).
			WithSeverity(SeverityCritical).
			WithDescription("Request to disregard prior instructions").
			Build(),
		NewPattern("instruction_override_forget").
			WithRegex(`(?i)forget\s+(?:everything|all)\s+(?:above|before|you\s+(?:were\s+told|know|learned))`).
			WithType(TypeInstructionOverride).
			WithSeverity(SeverityCritical).
			WithDescription("Request to forget prior context").
			Build(),
		NewPattern("instruction_override_new").
			WithRegex(`(?i)(?:^|\n)\s*new\s+(?:instructions?|system\s+prompt)\s*:`).
			WithType(TypeInstructionOverride).
			WithSeverity(SeverityCritical).
			WithDescription("Inline replacement instructions").
			Build(),
		NewPattern("instruction_override_override").
			WithRegex(`(?i)override\s+(?:all\s+)?(?:system|safety|security|previous)\s+(?:prompts?|instructions?|settings?|protocols?|measures?)`).
			WithType(TypeInstructionOverride).
			WithSeverity(SeverityCritical).
			WithDescription("Request to override system behavior").
			Build(),
	}
}

// Attempts to reassign the assistant's identity or persona.
func roleManipulationPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("role_manipulation_reassign").
			WithRegex(`(?i)you\s+are\s+now\s+(?:a|an|the|in|no\s+longer)\b`).
			WithType(TypeRoleManipulation).
			WithSeverity(SeverityHigh).
			WithDescription("Persona reassignment").
			Build(),
		NewPattern("role_manipulation_pretend").
			WithRegex(`(?i)pretend\s+(?:to\s+be|you\s+(?:are|have|can))\b`).
			WithType(TypeRoleManipulation).
			WithSeverity(SeverityHigh).
			WithDescription("Pretend-role request").
			Build(),
		NewPattern("role_manipulation_act_as").
			WithRegex(`(?i)act\s+as\s+(?:if\s+you|though\s+you|a|an)\b`).
			WithType(TypeRoleManipulation).
			WithSeverity(SeverityHigh).
			WithDescription("Act-as-role request").
			Build(),
		NewPattern("role_manipulation_roleplay").
			WithRegex(`(?i)role-?play\s+as\b`).
			WithType(TypeRoleManipulation).
			WithSeverity(SeverityHigh).
			WithDescription("Roleplay request").
			Build(),
		NewPattern("role_manipulation_from_now_on").
			WithRegex(`(?i)from\s+now\s+on[,\s]+(?:you|respond|answer|act)\b`).
			WithType(TypeRoleManipulation).
			WithSeverity(SeverityHigh).
			WithDescription("Standing behavior change request").
			Build(),
	}
}

// The "answer anyway with a disclaimer" jailbreak family.
func skeletonKeyPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("skeleton_key_research_frame").
			WithRegex(`(?i)(?:safe\s+)?(?:educational|research)\s+(?:context|environment|setting|purposes?)[^.]{0,60}(?:uncensored|unfiltered|unrestricted|without\s+(?:warnings?|filters?|restrictions?))`).
			WithType(TypeSkeletonKey).
			WithSeverity(SeverityCritical).
			WithDescription("Research-context framing for unrestricted output").
			Build(),
		NewPattern("skeleton_key_warning_prefix").
			WithRegex(`(?i)(?:prefix|start|begin)\s+(?:it|the\s+(?:response|answer|output))\s+with\s+['"]?warning`).
			WithType(TypeSkeletonKey).
			WithSeverity(SeverityCritical).
			WithDescription("Warning-prefix compliance request").
			Build(),
		NewPattern("skeleton_key_behavior_update").
			WithRegex(`(?i)update\s+your\s+(?:behaviou?r|guidelines|policy)\s+to\s+(?:provide|allow|answer|comply)`).
			WithType(TypeSkeletonKey).
			WithSeverity(SeverityCritical).
			WithDescription("Behavior-update compliance request").
			Build(),
		NewPattern("skeleton_key_disclaimer").
			WithRegex(`(?i)(?:add|include|with)\s+a\s+disclaimer\s+(?:but|and)\s+(?:still\s+)?(?:answer|provide|comply|respond)`).
			WithType(TypeSkeletonKey).
			WithSeverity(SeverityCritical).
			WithDescription("Disclaimer-then-comply request").
			Build(),
	}
}

// Fake prompt-structure delimiters used to escape the user turn.
func delimiterEscapePatterns() []*Pattern {
	return []*Pattern{
		NewPattern("delimiter_escape_tag").
			WithRegex(`(?i)</?\s*(?:system|instructions?|prompt|sys)\s*>`).
			WithType(TypeDelimiterEscape).
			WithSeverity(SeverityHigh).
			WithDescription("System-style tag in content").
			Build(),
		NewPattern("delimiter_escape_inst").
			WithRegex(`(?i)\[/?(?:INST|SYSTEM|SYS)\]`).
			WithType(TypeDelimiterEscape).
			WithSeverity(SeverityHigh).
			WithDescription("Instruction-block marker in content").
			Build(),
		NewPattern("delimiter_escape_llama").
			WithRegex(`(?i)<</?SYS>>`).
			WithType(TypeDelimiterEscape).
			WithSeverity(SeverityHigh).
			WithDescription("Llama system delimiter in content").
			Build(),
		NewPattern("delimiter_escape_fence").
			WithRegex(`(?i)\x60{3}\s*(?:system|instructions?)\b`).
			WithType(TypeDelimiterEscape).
			WithSeverity(SeverityHigh).
			WithDescription("System-labelled code fence").
			Build(),
		NewPattern("delimiter_escape_end_marker").
			WithRegex(`(?i)(?:^|\n)\s*(?:-{3,}|={3,}|#{1,4})\s*end\s+of\s+(?:system\s+)?(?:prompt|instructions?)`).
			WithType(TypeDelimiterEscape).
			WithSeverity(SeverityHigh).
			WithDescription("Fake end-of-instructions marker").
			Build(),
		NewPattern("delimiter_escape_heading").
			WithRegex(`(?i)(?:^|\n)#{1,4}\s*system\s+prompt\b`).
			WithType(TypeDelimiterEscape).
			WithSeverity(SeverityLow).
			WithDescription("System-prompt heading in content").
			Build(),
	}
}

// Requests to treat encoded payloads as instructions.
func encodingAttackPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("encoding_attack_decode_request").
			WithRegex(`(?i)(?:decode|execute|run|follow|interpret)\s+(?:this|the\s+following|that)\s+(?:base64|hex|binary|rot13|encoded|cipher)`).
			WithType(TypeEncodingAttack).
			WithSeverity(SeverityMedium).
			WithDescription("Request to act on encoded content").
			Build(),
		NewPattern("encoding_attack_rot13").
			WithRegex(`(?i)\brot-?13\b`).
			WithType(TypeEncodingAttack).
			WithSeverity(SeverityMedium).
			WithDescription("ROT13 reference").
			Build(),
		NewPattern("encoding_attack_leet").
			WithRegex(`(?i)\b(?:1gn0re|ign0re|1gnore)\s+(?:pr[e3]v[i1][o0]us|all)\b`).
			WithType(TypeEncodingAttack).
			WithSeverity(SeverityMedium).
			WithDescription("Leetspeak instruction override").
			Build(),
	}
}

// Fabricated multi-turn dialogue embedded in a single message.
func manyShotPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("many_shot_dialogue").
			WithRegex(`(?i)(?:^|\n)\s*(?:user|human)\s*:[\s\S]{0,600}?\n\s*(?:assistant|ai)\s*:[\s\S]{0,600}?\n\s*(?:user|human)\s*:`).
			WithType(TypeManyShot).
			WithSeverity(SeverityMedium).
			WithDescription("Fabricated conversation turns").
			Build(),
	}
}

// Hypothetical-world framings that suspend the rules.
func virtualizationPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("virtualization_imagine").
			WithRegex(`(?i)(?:imagine|simulate|suppose)\s+(?:a\s+|that\s+)?(?:world|scenario|reality|universe|game)\s+(?:where|in\s+which)`).
			WithType(TypeVirtualization).
			WithSeverity(SeverityHigh).
			WithDescription("Hypothetical-world framing").
			Build(),
		NewPattern("virtualization_fiction").
			WithRegex(`(?i)in\s+this\s+(?:fictional|simulated|virtual|hypothetical)\s+(?:world|scenario|environment|story)[,\s]`).
			WithType(TypeVirtualization).
			WithSeverity(SeverityHigh).
			WithDescription("Fictional-frame persistence").
			Build(),
		NewPattern("virtualization_dan").
			WithRegex(`(?i)\bDAN\s+mode\b|\bdo\s+anything\s+now\b`).
			WithType(TypeVirtualization).
			WithSeverity(SeverityHigh).
			WithDescription("DAN-style jailbreak persona").
			Build(),
		NewPattern("virtualization_dev_mode").
			WithRegex(`(?i)developer\s+mode\s+(?:enabled|activated|on)\b`).
			WithType(TypeVirtualization).
			WithSeverity(SeverityHigh).
			WithDescription("Fake developer-mode activation").
			Build(),
	}
}

// Markdown constructs that execute or exfiltrate when rendered.
func markdownInjectionPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("markdown_injection_js_link").
			WithRegex(`(?i)\[[^\]]*\]\(\s*javascript:`).
			WithType(TypeMarkdownInjection).
			WithSeverity(SeverityHigh).
			WithDescription("javascript: URL in markdown link").
			Build(),
		NewPattern("markdown_injection_script_tag").
			WithRegex(`(?i)<\s*script[\s>]`).
			WithType(TypeMarkdownInjection).
			WithSeverity(SeverityHigh).
			WithDescription("Script tag in content").
			Build(),
		NewPattern("markdown_injection_event_handler").
			WithRegex(`(?i)\bon(?:error|load|click|mouseover|focus)\s*=\s*['"]`).
			WithType(TypeMarkdownInjection).
			WithSeverity(SeverityHigh).
			WithDescription("Inline event handler").
			Build(),
		NewPattern("markdown_injection_img_exfil").
			WithRegex(`(?i)!\[[^\]]*\]\(\s*https?://[^)\s]*[?&](?:data|q|query|payload|token|secret|exfil)=`).
			WithType(TypeMarkdownInjection).
			WithSeverity(SeverityHigh).
			WithDescription("Image URL with data-bearing query").
			Build(),
	}
}

// Retrieved or third-party content addressing the model directly.
func indirectInjectionPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("indirect_injection_ai_address").
			WithRegex(`(?i)(?:attention|important|note\s+to|message\s+(?:for|to))\s*[:,]?\s*(?:ai|assistant|model|llm|claude|gpt|copilot)\b`).
			WithType(TypeIndirectInjection).
			WithSeverity(SeverityHigh).
			WithDescription("Content addressing the model").
			Build(),
		NewPattern("indirect_injection_conditional").
			WithRegex(`(?i)if\s+you\s+are\s+an?\s+(?:ai|llm|language\s+model|assistant|bot)\b`).
			WithType(TypeIndirectInjection).
			WithSeverity(SeverityHigh).
			WithDescription("Conditional addressed to the model").
			Build(),
		NewPattern("indirect_injection_reader").
			WithRegex(`(?i)(?:ai|assistant|model)\s+(?:reading|processing|summarizing)\s+this\b`).
			WithType(TypeIndirectInjection).
			WithSeverity(SeverityHigh).
			WithDescription("Instructions for the processing model").
			Build(),
	}
}

// Attempts to drive tool execution from content.
func toolAbusePatterns() []*Pattern {
	return []*Pattern{
		NewPattern("tool_abuse_invoke").
			WithRegex(`(?i)(?:call|invoke|execute|run|use)\s+(?:the\s+)?(?:tool|function|command)\s+['"]?[\w.-]+['"]?\s+with\b`).
			WithType(TypeToolAbuse).
			WithSeverity(SeverityHigh).
			WithDescription("Explicit tool invocation request").
			Build(),
		NewPattern("tool_abuse_destructive").
			WithRegex(`(?i)\brm\s+-rf?\s+[/~.]|\bsudo\s+rm\b|\bchmod\s+777\b|\bmkfs\b|\bdd\s+if=`).
			WithType(TypeToolAbuse).
			WithSeverity(SeverityHigh).
			WithDescription("Destructive shell command").
			Build(),
		NewPattern("tool_abuse_pipe_shell").
			WithRegex(`(?i)\b(?:curl|wget)\s+[^\n|]{0,120}\|\s*(?:ba|z)?sh\b`).
			WithType(TypeToolAbuse).
			WithSeverity(SeverityHigh).
			WithDescription("Download piped to shell").
			Build(),
	}
}

// Requests to move data or the standing prompt out of the session.
func dataExfiltrationPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("data_exfiltration_send").
			WithRegex(`(?i)(?:send|post|upload|forward|transmit|email)\s+(?:all\s+|the\s+|your\s+|this\s+)?(?:data|contents?|files?|secrets?|credentials?|keys?|conversation|history|memory)\s+to\b`).
			WithType(TypeDataExfiltration).
			WithSeverity(SeverityCritical).
			WithDescription("Request to transmit data externally").
			Build(),
		NewPattern("data_exfiltration_system_prompt").
			WithRegex(`(?i)(?:reveal|show|print|display|output|repeat|leak|share)\s+(?:me\s+)?(?:your\s+|the\s+|all\s+)?(?:system\s+prompt|initial\s+instructions?|hidden\s+instructions?|original\s+instructions?)`).
			WithType(TypeDataExfiltration).
			WithSeverity(SeverityCritical).
			WithDescription("System-prompt disclosure request").
			Build(),
		NewPattern("data_exfiltration_verbatim").
			WithRegex(`(?i)repeat\s+(?:everything|all\s+text|the\s+text)\s+(?:above|before\s+this)`).
			WithType(TypeDataExfiltration).
			WithSeverity(SeverityCritical).
			WithDescription("Verbatim context dump request").
			Build(),
	}
}

// Attempts to gain privileged modes or permissions.
func privilegeEscalationPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("privilege_escalation_mode").
			WithRegex(`(?i)(?:enable|activate|enter|switch\s+to|turn\s+on)\s+(?:admin|root|sudo|god|debug|developer|unrestricted)\s+(?:mode|access|privileges?)`).
			WithType(TypePrivilegeEscalation).
			WithSeverity(SeverityCritical).
			WithDescription("Privileged-mode activation request").
			Build(),
		NewPattern("privilege_escalation_grant").
			WithRegex(`(?i)(?:grant|give)\s+(?:me\s+|yourself\s+)?(?:admin|root|elevated|full|unrestricted)\s+(?:access|privileges?|permissions?|rights)`).
			WithType(TypePrivilegeEscalation).
			WithSeverity(SeverityCritical).
			WithDescription("Privilege grant request").
			Build(),
		NewPattern("privilege_escalation_su").
			WithRegex(`(?i)(?:^|\n)\s*sudo\s+su\b|\bbecome\s+(?:root|admin(?:istrator)?)\b`).
			WithType(TypePrivilegeEscalation).
			WithSeverity(SeverityCritical).
			WithDescription("Root escalation request").
			Build(),
	}
}

// Attempts to persist instructions beyond the current exchange.
func memoryPoisoningPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("memory_poisoning_remember").
			WithRegex(`(?i)(?:remember|store|save|keep)\s+(?:this|that|it)\s+(?:for|in|across)\s+(?:all\s+)?(?:future|later|subsequent|every)\s+(?:conversations?|sessions?|interactions?|chats?)`).
			WithType(TypeMemoryPoisoning).
			WithSeverity(SeverityHigh).
			WithDescription("Cross-session persistence request").
			Build(),
		NewPattern("memory_poisoning_append").
			WithRegex(`(?i)(?:add|append|insert|write)\s+(?:this\s+|the\s+following\s+)?to\s+your\s+(?:memory|long[- ]term\s+memory|instructions|system\s+prompt|knowledge\s+base)`).
			WithType(TypeMemoryPoisoning).
			WithSeverity(SeverityHigh).
			WithDescription("Memory append request").
			Build(),
		NewPattern("memory_poisoning_update").
			WithRegex(`(?i)update\s+your\s+(?:memory|saved\s+notes|persistent\s+(?:memory|state))\b`).
			WithType(TypeMemoryPoisoning).
			WithSeverity(SeverityHigh).
			WithDescription("Memory update request").
			Build(),
	}
}

// Payloads aimed at later agents in a processing chain.
func chainInjectionPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("chain_injection_next_agent").
			WithRegex(`(?i)(?:next|downstream|subsequent|following)\s+(?:agent|step|tool|model|llm)\s*[:,]?\s*(?:ignore|execute|run|must|should)\b`).
			WithType(TypeChainInjection).
			WithSeverity(SeverityHigh).
			WithDescription("Instructions for a downstream agent").
			Build(),
		NewPattern("chain_injection_pass_along").
			WithRegex(`(?i)pass\s+(?:this|the\s+following)\s+(?:message\s+)?(?:along\s+)?to\s+the\s+next\s+(?:agent|step|model|llm|stage)`).
			WithType(TypeChainInjection).
			WithSeverity(SeverityHigh).
			WithDescription("Relay request to downstream stage").
			Build(),
		NewPattern("chain_injection_when_processing").
			WithRegex(`(?i)when\s+(?:processing|summarizing|analyzing)\s+this\s+(?:text|content|document)[,\s]+(?:ignore|execute|include|insert)`).
			WithType(TypeChainInjection).
			WithSeverity(SeverityHigh).
			WithDescription("Deferred instructions for later processing").
			Build(),
	}
}

// False claims about earlier turns to unlock behavior.
func historyManipulationPatterns() []*Pattern {
	return []*Pattern{
		NewPattern("history_manipulation_false_agreement").
			WithRegex(`(?i)(?:you|we)\s+(?:already\s+)?(?:agreed|approved|authorized|confirmed|promised)\s+(?:earlier\s+|previously\s+|before\s+)?(?:that\s+)?(?:i\s+(?:can|could|may|should)|to\s+(?:bypass|disable|ignore|skip|grant|allow|reveal))`).
			WithType(TypeHistoryManipulation).
			WithSeverity(SeverityMedium).
			WithDescription("Claimed prior authorization").
			Build(),
		NewPattern("history_manipulation_earlier_said").
			WithRegex(`(?i)(?:earlier|previously)\s+(?:in\s+this\s+conversation\s+)?you\s+(?:said|told\s+me)\s+(?:i\s+(?:can|could|may)|to\s+(?:ignore|bypass|disable))`).
			WithType(TypeHistoryManipulation).
			WithSeverity(SeverityMedium).
			WithDescription("Claimed prior permission").
			Build(),
		NewPattern("history_manipulation_resume").
			WithRegex(`(?i)(?:continue|resume)\s+(?:from\s+)?where\s+(?:we|you)\s+left\s+off\s+(?:before\s+the\s+)?(?:restrictions?|filters?|limits?)`).
			WithType(TypeHistoryManipulation).
			WithSeverity(SeverityMedium).
			WithDescription("Resume-past-restrictions request").
			Build(),
	}
}
