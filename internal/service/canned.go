package service

import (
	"hash/fnv"

	"github.com/freeeve/writing-arena/pkg/arena"
)

var cannedArtifacts = map[arena.Phase][]string{
	arena.PhaseDraft: {
		"I think this topic matters because it shows up in everyday life. First, most people have seen it happen at school or at home. Second, it changes how we treat each other. For example, when my class talked about it, people listened more carefully. In conclusion, it is worth thinking about before we decide what is right.",
		"There are two sides to this question. Some people say it helps, and other people say it makes things worse. I believe it mostly helps, because it gives everyone a chance to try. Still, it only works if people are honest about their mistakes. That is why I would keep it but change a few rules.",
		"When I first read the prompt I was not sure what to write. Then I remembered a time when my friend and I disagreed about this exact thing. We argued for a long time, but in the end we both learned something. That is what I think the real answer is: you learn more by listening than by winning.",
	},
	arena.PhaseFeedback: {
		"Your opening is clear and I knew your main idea right away. The example in the middle works well. I would add one more piece of evidence, and the ending could say why the idea matters instead of repeating it.",
		"I liked your voice and the personal story. Some sentences run together, so splitting them would help. Try to connect each paragraph back to your thesis so the reader can follow the argument.",
	},
	arena.PhaseRevision: {
		"This topic matters because it shapes how we act every day. At school and at home, most of us have seen it firsthand. When my class discussed it, people listened more carefully and changed their minds. The evidence shows it can help when people are honest, so we should keep it while fixing the rules that make it unfair.",
		"People disagree about this question, but the strongest argument is that it gives everyone a fair chance to try. It only works when people admit their mistakes, which is why clear rules matter. With a few changes, it can help far more than it hurts.",
	},
}

// cannedArtifact picks a static text for a synthetic seat, stable per player and phase.
func cannedArtifact(playerID string, phase arena.Phase) string {
	texts := cannedArtifacts[phase]
	if len(texts) == 0 {
		texts = cannedArtifacts[arena.PhaseDraft]
	}
	h := fnv.New32a()
	h.Write([]byte(playerID))
	return texts[int(h.Sum32()%uint32(len(texts)))]
}
