package linera

const betFields = `id question yesPool noPool status creator resolution createdAt expiresAt`

const listBetsQuery = `query ListBets {
  bets {
    entries {
      value { ` + betFields + ` }
    }
  }
}`

const getBetQuery = `query GetBet($betId: String!) {
  bets {
    entry(key: $betId) {
      value { ` + betFields + ` }
    }
  }
}`

const listUserBetsQuery = `query ListUserBets {
  userBets {
    entries {
      value { betId owner side amount timestamp }
    }
  }
}`

const createBetMutation = `mutation CreateBet($question: String!, $durationSeconds: Int!) {
  createBet(question: $question, durationSeconds: $durationSeconds)
}`

const placeBetMutation = `mutation PlaceBet($betId: String!, $side: Boolean!, $amount: String!) {
  placeBet(betId: $betId, side: $side, amount: $amount)
}`

const closeBetMutation = `mutation CloseBet($betId: String!) {
  closeBet(betId: $betId)
}`

const resolveBetMutation = `mutation ResolveBet($betId: String!, $outcome: Boolean!) {
  resolveBet(betId: $betId, outcome: $outcome)
}`
