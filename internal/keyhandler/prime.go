package keyhandler

import "math/big"

// primeDecimal is the fixed Diffie-Hellman safe-prime modulus, reproduced
// verbatim (decimal, then converted once at init) from the source
// protocol's `_DEF_P` constant. Implementers must not substitute a
// different group: both peers must agree on the exact same P for their
// derived hashes to match.
const primeDecimal = "6741187748806620932576983646169579908388179173131896217634330086718213" +
	"7196897524293100294385477509911251666985176430415411153583804934148112" +
	"2270719203394689775275781619712787479926285627950841056894489914560578" +
	"6644777704963171436690681451747767610668623662035091547675844577581284" +
	"1107116099737332586447792783379920367661156585471296521174976519909711" +
	"4053655493786697005150045341870428321756137613385997090886777268555313" +
	"7414611143572205433662323266534295986300670493366452353956774419991946" +
	"7120778376342973332729789484834427321305641994642429484887054720652378" +
	"7143281611104732150605474884416750181204426751173773061831004280249984" +
	"0515160495726996646570665581919782210861089443979066756563614980581896" +
	"3647477490973785554423411033175221560647410381701525997354437960124876" +
	"6355850848264286976617275698214554930850304944031744000262468873161694" +
	"1403032728660983155586725969741246309018148831176048722092207759408047" +
	"8277337764758577216471860266408165536226629039774758856734871478477888" +
	"0460652370770255115242696211550472734853492720444777033094043832156353" +
	"9899474371867589569522488773142013721743597372132076054869435258047774" +
	"9466039212874034254763903083243504140048745275480322645573043647036118" +
	"6034739679137202157599997031290815163983987"

// generator is the fixed DH generator used with P; both peers agree on
// g = 2.
const generator = int64(2)

// P is the shared DH modulus and g is the shared generator.
var (
	P = mustParsePrime(primeDecimal)
	g = big.NewInt(generator)
)

func mustParsePrime(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("keyhandler: failed to parse DH prime literal")
	}
	return n
}
