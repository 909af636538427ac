package extract

import (
	"fmt"
	"strings"

	"compintel/internal/competitors"
)

// OutputHeader is the CSV header the model must reply with.
const OutputHeader = "번호,사업명,경쟁사,협력사/기관명,협력 유형,근거 기사 제목,근거 기사 URL"

// RenderPrompt builds the extraction prompt for one batch. competitor is the
// name as it appears in the source sheet; rule supplies the business units and
// any disambiguation clauses; articlesJSON comes from SerializeArticles.
func RenderPrompt(competitor string, rule competitors.Rule, articlesJSON string) string {
	business := rule.BusinessLabel()
	var b strings.Builder

	b.WriteString("당신은 **대웅그룹의 경쟁사 동향 분석 전문가**입니다.\n\n")
	fmt.Fprintf(&b, "여기서 말하는 **\"%s\"**는 %s\n", competitor, businessIntro(rule.BusinessUnits))
	b.WriteString("동명의 다른 회사(이름만 같은 다른 기업)와 **절대 혼동하지 마세요.**\n\n")
	b.WriteString("아래에 제공된 기사 데이터만을 사용하여 분석해야 하며,\n")
	b.WriteString("사전에 알고 있는 일반 지식이나 외부 정보로 새로운 사실(파트너십, 회사명, 서비스명 등)을 **추가로 지어내지 마세요.**\n\n")
	b.WriteString("반드시 다음 원칙을 지키세요:\n\n")
	b.WriteString("1. **기사 본문에 실제로 등장하는 정보만 사용**\n")
	fmt.Fprintf(&b, "2. **'%s'와의 직접적인 관계만 파트너십으로 인정**\n", competitor)
	b.WriteString("3. **대웅 사업 관점 우선**\n")
	b.WriteString("4. **후원, 투자는 협력사로 인정하지 않음**\n")
	b.WriteString("   - 실제 비즈니스 협력(제휴, 협약, 공동 개발, 공급 계약 등)만 협력사로 인정\n")

	writeRuleClauses(&b, competitor, rule)

	b.WriteString("\n[분석용 기사 데이터(JSON)]\n")
	b.WriteString(articlesJSON)
	b.WriteString("\n\n")
	b.WriteString("출력: 아래 헤더를 갖는 **순수 CSV 텍스트만** 출력하세요. 코드 블록이나 설명을 붙이지 마세요.\n")
	fmt.Fprintf(&b, "헤더: %s\n\n", OutputHeader)
	b.WriteString("- 협력 관계가 하나도 없으면 헤더 행만 출력하세요.\n")
	b.WriteString("- 값에 콤마가 들어가면 큰따옴표로 감싸세요.\n")
	fmt.Fprintf(&b, "- 사업명: %s\n", businessHint(business, len(rule.BusinessUnits)))
	fmt.Fprintf(&b, "- 경쟁사: '%s' 그대로\n", competitor)
	b.WriteString("- 협력사/기관명:\n")
	b.WriteString("  * 후원, 투자 관계는 제외\n")
	fmt.Fprintf(&b, "  * '%s'와 실제 비즈니스 협력을 하는 기업/기관만 포함\n", competitor)
	b.WriteString("  * 모회사, 자회사 관계는 제외\n")
	b.WriteString("- 협력 유형: 구체적인 협력 형태를 명시 (예: 제휴, 협약, 공동 개발, 공급 계약, 서비스 연계 등)\n")
	b.WriteString("- 근거 기사 제목: JSON의 기사 제목을 그대로\n")
	b.WriteString("- 근거 기사 URL: JSON에 있으면 그대로, 없으면 빈 칸\n")
	return b.String()
}

func businessIntro(units []string) string {
	switch len(units) {
	case 0:
		return "대웅그룹과 연관된 경쟁사입니다."
	case 1:
		return fmt.Sprintf("대웅그룹의 **'%s'** 사업과 직접적으로 연관된 경쟁사입니다.", units[0])
	default:
		quoted := make([]string, len(units))
		for i, unit := range units {
			quoted[i] = "'" + unit + "'"
		}
		return fmt.Sprintf("대웅그룹의 **%s** 사업과 직접적으로 연관된 경쟁사입니다.", strings.Join(quoted, ", "))
	}
}

func businessHint(label string, units int) string {
	switch {
	case units == 0:
		return "사업명이 명확하지 않은 경우, '사업명' 컬럼은 비워 두거나 기사 맥락상 자연스러운 이름을 사용하세요."
	case units > 1:
		return fmt.Sprintf("모든 행에서 정확히 **'%s'** (콤마 포함, 그대로)을 사용하세요. 사업명을 분리하거나 변경하지 마세요.", label)
	default:
		return fmt.Sprintf("모든 행에서 **'%s'**을 그대로 사용하세요.", label)
	}
}

func writeRuleClauses(b *strings.Builder, competitor string, rule competitors.Rule) {
	if len(rule.Notes) > 0 || len(rule.ExcludePartners) > 0 {
		b.WriteString("\n**중요 제약사항:**\n")
		for _, note := range rule.Notes {
			fmt.Fprintf(b, "- %s\n", note)
		}
		if len(rule.ExcludePartners) > 0 {
			fmt.Fprintf(b, "- '%s'의 협력사/기관명에 %s가 포함되면 안 됩니다.\n", competitor, quoteList(rule.ExcludePartners))
		}
	}
	if len(rule.IncludeKeywords) > 0 {
		b.WriteString("\n**기사 필터링 조건:**\n")
		b.WriteString("- **반드시** 기사 제목 또는 본문에 다음 키워드 중 하나 이상이 포함된 기사만 분석하세요:\n")
		for _, kw := range rule.IncludeKeywords {
			fmt.Fprintf(b, "  * \"%s\"\n", kw)
		}
		b.WriteString("- 위 키워드가 전혀 없는 기사는 CSV에 포함시키지 마세요.\n")
	}
	if len(rule.ExcludeKeywords) > 0 {
		b.WriteString("\n**제외 키워드:**\n")
		b.WriteString("- 기사 제목 또는 본문에 다음 키워드가 포함된 기사는 **절대 분석하지 마세요**:\n")
		for _, kw := range rule.ExcludeKeywords {
			fmt.Fprintf(b, "  * \"%s\"\n", kw)
		}
	}
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "**\"" + v + "\"**"
	}
	return strings.Join(quoted, " 또는 ")
}
